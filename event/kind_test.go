package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_String(t *testing.T) {
	tests := map[Kind]string{
		LoadRequest:   "LOAD_REQUEST",
		VerifyOK:      "VERIFY_OK",
		InvokeFail:    "INVOKE_FAIL",
		GCMajor:       "GC_MAJOR",
		UnloadRequest: "UNLOAD_REQUEST",
		Result:        "RESULT",
		Kind(77):      "Kind(77)",
	}
	for k, want := range tests {
		assert.Equal(t, want, k.String())
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("invoke_end")
	require.NoError(t, err)
	assert.Equal(t, InvokeEnd, got)

	_, err = ParseKind("LOAD_MAYBE")
	assert.Error(t, err)
}

func TestKinds_Complete(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 15)
	assert.Equal(t, LoadRequest, kinds[0])
	assert.Equal(t, Result, kinds[len(kinds)-1])
}

func TestKind_Reported(t *testing.T) {
	reported := map[Kind]bool{Result: true, Alloc: true, GCMinor: true, GCMajor: true}
	for _, k := range Kinds() {
		assert.Equal(t, reported[k], k.Reported(), k.String())
	}
}

func TestKind_Failure(t *testing.T) {
	assert.True(t, LoadFail.Failure())
	assert.True(t, InvokeFail.Failure())
	assert.True(t, UnloadFail.Failure())
	assert.False(t, LoadOK.Failure())
	assert.False(t, Result.Failure())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "LOAD_OK(mod.wasm)", New(LoadOK, "mod.wasm").String())
	assert.Equal(t, "A ALLOC(main)=65536", New(Alloc, "main").WithValue(65536).From("A").String())
}
