package subdocop

import "strings"

// maxPathDepth bounds how many nested containers a path may cross,
// mapping to DOC_ETOODEEP per spec.md §4.3's result enum.
const maxPathDepth = 32

// depth counts path components separated by '.'; an empty path has
// depth 0 (it addresses the document root, used by the array-push
// opcodes' allow_empty_path trait).
func depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

func tooDeep(path string) bool {
	return depth(path) > maxPathDepth
}
