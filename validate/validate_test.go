package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeqown/submemd/wire"
)

func subdocExtras(pathLen int, flags uint8) []byte {
	return []byte{byte(pathLen >> 8), byte(pathLen), flags}
}

func TestRequest_RejectsBadMagic(t *testing.T) {
	pkt := wire.NewRequest(wire.OpGet, 0, 0, 0, nil, []byte("k"), nil)
	pkt.Header.Magic = wire.MagicResponse
	err := Request(pkt, DefaultLimits)
	require.Error(t, err)
	assert.Equal(t, wire.StatusInvalidArgs, err.(*Error).Status)
}

func TestRequest_RejectsBodyLenMismatch(t *testing.T) {
	pkt := wire.NewRequest(wire.OpGet, 0, 0, 0, nil, []byte("k"), nil)
	pkt.Header.BodyLen = 99
	err := Request(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestRequest_AcceptsPlainGet(t *testing.T) {
	pkt := wire.NewRequest(wire.OpGet, 0, 0, 0, nil, []byte("k"), nil)
	assert.NoError(t, Request(pkt, DefaultLimits))
}

func TestRequest_RejectsEmptyKeyForSubdoc(t *testing.T) {
	path := "a.b"
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(len(path), 0), nil, []byte(path))
	err := Request(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestSinglePath_GetHappyPath(t *testing.T) {
	path := "a.b.c"
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(len(path), 0), []byte("doc"), []byte(path))
	gotPath, gotValue, err := SinglePath(pkt, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, path, gotPath)
	assert.Empty(t, gotValue)
}

func TestSinglePath_RejectsEmptyPathWhenNotAllowed(t *testing.T) {
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(0, 0), []byte("doc"), nil)
	_, _, err := SinglePath(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestSinglePath_AllowsEmptyPathForArrayPush(t *testing.T) {
	value := []byte(`"x"`)
	pkt := wire.NewRequest(wire.OpSubDocArrayPushLast, 0, 0, 0, subdocExtras(0, 0), []byte("doc"), value)
	gotPath, gotValue, err := SinglePath(pkt, DefaultLimits)
	require.NoError(t, err)
	assert.Empty(t, gotPath)
	assert.Equal(t, value, gotValue)
}

func TestSinglePath_RejectsValueForNonMutator(t *testing.T) {
	path := "a"
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(len(path), 0), []byte("doc"), []byte(path+"junk"))
	_, _, err := SinglePath(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestSinglePath_RejectsInvalidFlagBit(t *testing.T) {
	path := "a"
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(len(path), 1<<3), []byte("doc"), []byte(path))
	_, _, err := SinglePath(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestSinglePath_RejectsPathTooLong(t *testing.T) {
	longPath := make([]byte, DefaultLimits.MaxPathLength+1)
	for i := range longPath {
		longPath[i] = 'a'
	}
	pkt := wire.NewRequest(wire.OpSubDocGet, 0, 0, 0, subdocExtras(len(longPath), 0), []byte("doc"), longPath)
	_, _, err := SinglePath(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiLookup_RejectsTooManySpecs(t *testing.T) {
	specs := make([]wire.LookupSpec, DefaultLimits.MaxMultiSpecs+1)
	for i := range specs {
		specs[i] = wire.LookupSpec{Opcode: wire.OpSubDocGet, Path: "a"}
	}
	pkt := wire.NewRequest(wire.OpSubDocMultiLookup, 0, 0, 0, nil, []byte("doc"), wire.EncodeLookupSpecs(specs))
	_, err := MultiLookup(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiLookup_RejectsNonLookupOpcode(t *testing.T) {
	specs := []wire.LookupSpec{{Opcode: wire.OpSubDocReplace, Path: "a"}}
	pkt := wire.NewRequest(wire.OpSubDocMultiLookup, 0, 0, 0, nil, []byte("doc"), wire.EncodeLookupSpecs(specs))
	_, err := MultiLookup(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiLookup_RejectsNonZeroExtras(t *testing.T) {
	specs := []wire.LookupSpec{{Opcode: wire.OpSubDocGet, Path: "a"}}
	pkt := wire.NewRequest(wire.OpSubDocMultiLookup, 0, 0, 0, []byte{0x00}, []byte("doc"), wire.EncodeLookupSpecs(specs))
	_, err := MultiLookup(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiLookup_AcceptsMixedGetExists(t *testing.T) {
	specs := []wire.LookupSpec{
		{Opcode: wire.OpSubDocGet, Path: "a"},
		{Opcode: wire.OpSubDocExists, Path: "b"},
	}
	pkt := wire.NewRequest(wire.OpSubDocMultiLookup, 0, 0, 0, nil, []byte("doc"), wire.EncodeLookupSpecs(specs))
	got, err := MultiLookup(pkt, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, specs, got)
}

func TestMultiMutation_RejectsZeroSpecs(t *testing.T) {
	pkt := wire.NewRequest(wire.OpSubDocMultiMutation, 0, 0, 0, nil, []byte("doc"), nil)
	_, err := MultiMutation(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiMutation_RejectsLookupOpcode(t *testing.T) {
	specs := []wire.MutationSpec{{Opcode: wire.OpSubDocGet, Path: "a"}}
	pkt := wire.NewRequest(wire.OpSubDocMultiMutation, 0, 0, 0, nil, []byte("doc"), wire.EncodeMutationSpecs(specs))
	_, err := MultiMutation(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiMutation_RejectsNonZeroExtras(t *testing.T) {
	specs := []wire.MutationSpec{{Opcode: wire.OpSubDocDictSet, Path: "a", Value: []byte("1")}}
	pkt := wire.NewRequest(wire.OpSubDocMultiMutation, 0, 0, 0, []byte{0x00}, []byte("doc"), wire.EncodeMutationSpecs(specs))
	_, err := MultiMutation(pkt, DefaultLimits)
	assert.Error(t, err)
}

func TestMultiMutation_AcceptsDictSetAndDelete(t *testing.T) {
	specs := []wire.MutationSpec{
		{Opcode: wire.OpSubDocDictSet, Path: "a", Value: []byte("1")},
		{Opcode: wire.OpSubDocDelete, Path: "b"},
	}
	pkt := wire.NewRequest(wire.OpSubDocMultiMutation, 0, 0, 0, nil, []byte("doc"), wire.EncodeMutationSpecs(specs))
	got, err := MultiMutation(pkt, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, specs, got)
}
