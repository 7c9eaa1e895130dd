package subdocop

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yeqown/submemd/traits"
	"github.com/yeqown/submemd/wire"
)

// GJSONEngine adapts github.com/tidwall/gjson and github.com/tidwall/sjson
// to the Engine contract. Paths use gjson/sjson's native dot-and-index
// syntax ("a.b.1" addresses index 1 of array b), rather than the
// bracketed "a.b[1]" surface syntax.
type GJSONEngine struct{}

var _ Engine = GJSONEngine{}

func (GJSONEngine) Apply(op wire.Opcode, flags uint8, doc []byte, path string, value []byte) Result {
	if tooDeep(path) {
		return Result{Status: DocTooDeep}
	}

	mkdirP := flags&traits.FlagMkdirP != 0

	switch op {
	case wire.OpSubDocGet:
		return get(doc, path)
	case wire.OpSubDocExists:
		return exists(doc, path)
	case wire.OpSubDocDictAdd:
		return dictAdd(doc, path, value, mkdirP)
	case wire.OpSubDocDictSet:
		return dictSet(doc, path, value, mkdirP)
	case wire.OpSubDocDelete:
		return remove(doc, path)
	case wire.OpSubDocReplace:
		return replace(doc, path, value)
	case wire.OpSubDocArrayPushLast:
		return arrayPush(doc, path, value, mkdirP, true)
	case wire.OpSubDocArrayPushFirst:
		return arrayPush(doc, path, value, mkdirP, false)
	case wire.OpSubDocArrayInsert:
		return arrayInsert(doc, path, value)
	case wire.OpSubDocArrayAddUnique:
		return arrayAddUnique(doc, path, value, mkdirP)
	case wire.OpSubDocCounter:
		return counter(doc, path, value, mkdirP)
	default:
		return Result{Status: PathInvalid}
	}
}

func get(doc []byte, path string) Result {
	r := gjson.GetBytes(doc, path)
	if !r.Exists() {
		return Result{Status: PathNotFound}
	}
	return Result{Status: Success, MatchLocation: []byte(r.Raw)}
}

func exists(doc []byte, path string) Result {
	if !gjson.GetBytes(doc, path).Exists() {
		return Result{Status: PathNotFound}
	}
	return Result{Status: Success}
}

func parentExists(doc []byte, path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		root := gjson.ParseBytes(doc)
		return root.IsObject() || root.IsArray()
	}
	parent := gjson.GetBytes(doc, path[:idx])
	return parent.Exists() && (parent.IsObject() || parent.IsArray())
}

func dictAdd(doc []byte, path string, value []byte, mkdirP bool) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}
	if gjson.GetBytes(doc, path).Exists() {
		return Result{Status: DocExists}
	}
	if !mkdirP && !parentExists(doc, path) {
		return Result{Status: PathNotFound}
	}

	newDoc, err := sjson.SetRawBytes(doc, path, value)
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func dictSet(doc []byte, path string, value []byte, mkdirP bool) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}
	if !gjson.GetBytes(doc, path).Exists() && !mkdirP && !parentExists(doc, path) {
		return Result{Status: PathNotFound}
	}

	newDoc, err := sjson.SetRawBytes(doc, path, value)
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func remove(doc []byte, path string) Result {
	if !gjson.GetBytes(doc, path).Exists() {
		return Result{Status: PathNotFound}
	}
	newDoc, err := sjson.DeleteBytes(doc, path)
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func replace(doc []byte, path string, value []byte) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}
	if !gjson.GetBytes(doc, path).Exists() {
		return Result{Status: PathNotFound}
	}
	newDoc, err := sjson.SetRawBytes(doc, path, value)
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

// arrayTarget resolves the array this path names: the whole document
// when path is empty, otherwise the value at path. ok is false when the
// target doesn't exist.
func arrayTarget(doc []byte, path string) (gjson.Result, bool) {
	if path == "" {
		r := gjson.ParseBytes(doc)
		return r, r.IsArray()
	}
	r := gjson.GetBytes(doc, path)
	return r, r.Exists()
}

func setArray(doc []byte, path string, rawArray []byte) ([]byte, error) {
	if path == "" {
		return rawArray, nil
	}
	return sjson.SetRawBytes(doc, path, rawArray)
}

func arrayPush(doc []byte, path string, value []byte, mkdirP, last bool) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}

	target, exists := arrayTarget(doc, path)
	if exists && !target.IsArray() {
		return Result{Status: PathMismatch}
	}
	if !exists {
		if path == "" {
			return Result{Status: PathMismatch}
		}
		if !mkdirP && !parentExists(doc, path) {
			return Result{Status: PathNotFound}
		}
		target = gjson.Parse("[]")
	}

	elems := rawElements(target)
	if last {
		elems = append(elems, string(value))
	} else {
		elems = append([]string{string(value)}, elems...)
	}

	newDoc, err := setArray(doc, path, []byte("["+strings.Join(elems, ",")+"]"))
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func arrayInsert(doc []byte, path string, value []byte) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}

	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return Result{Status: PathInvalid}
	}
	arrayPath, indexStr := path[:idx], path[idx+1:]
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		return Result{Status: PathInvalid}
	}

	target, exists := arrayTarget(doc, arrayPath)
	if !exists {
		return Result{Status: PathNotFound}
	}
	if !target.IsArray() {
		return Result{Status: PathMismatch}
	}

	elems := rawElements(target)
	if index > len(elems) {
		return Result{Status: PathNotFound}
	}
	elems = append(elems, "")
	copy(elems[index+1:], elems[index:])
	elems[index] = string(value)

	newDoc, err := setArray(doc, arrayPath, []byte("["+strings.Join(elems, ",")+"]"))
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func arrayAddUnique(doc []byte, path string, value []byte, mkdirP bool) Result {
	if !json.Valid(value) {
		return Result{Status: ValueCantInsert}
	}

	target, exists := arrayTarget(doc, path)
	if exists && !target.IsArray() {
		return Result{Status: PathMismatch}
	}
	if !exists {
		if path == "" {
			return Result{Status: PathMismatch}
		}
		if !mkdirP && !parentExists(doc, path) {
			return Result{Status: PathNotFound}
		}
		target = gjson.Parse("[]")
	}

	wanted := strings.TrimSpace(string(value))
	elems := rawElements(target)
	for _, e := range elems {
		if strings.TrimSpace(e) == wanted {
			return Result{Status: DocExists}
		}
		if gjson.Parse(e).IsObject() || gjson.Parse(e).IsArray() {
			return Result{Status: ValueCantInsert}
		}
	}

	elems = append(elems, string(value))
	newDoc, err := setArray(doc, path, []byte("["+strings.Join(elems, ",")+"]"))
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{Status: Success, NewDoc: [][]byte{newDoc}}
}

func rawElements(array gjson.Result) []string {
	raw := array.Array()
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = v.Raw
	}
	return out
}

func counter(doc []byte, path string, value []byte, mkdirP bool) Result {
	delta, err := strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
	if err != nil {
		return Result{Status: ValueCantInsert}
	}

	r := gjson.GetBytes(doc, path)
	var current int64
	if r.Exists() {
		if r.Type != gjson.Number || strings.ContainsAny(r.Raw, ".eE") {
			return Result{Status: PathMismatch}
		}
		current = r.Int()
	} else if !mkdirP {
		return Result{Status: PathNotFound}
	}

	newVal := current + delta
	if (delta > 0 && newVal < current) || (delta < 0 && newVal > current) {
		return Result{Status: DeltaTooBig}
	}

	newDoc, err := sjson.SetBytes(doc, path, newVal)
	if err != nil {
		return Result{Status: PathInvalid}
	}
	return Result{
		Status:        Success,
		MatchLocation: []byte(strconv.FormatInt(newVal, 10)),
		NewDoc:        [][]byte{newDoc},
	}
}
