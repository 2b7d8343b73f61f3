package coopipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseControlPlainValues(t *testing.T) {
	blob, files, endpoints, err := buildControl("my.target", true, "worker-1",
		[]any{1, "two", 3.0},
		map[string]any{"flag": true},
	)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, endpoints)

	pc, err := parseControl(blob)
	require.NoError(t, err)
	assert.Equal(t, "my.target", pc.target)
	assert.True(t, pc.daemon)
	assert.Equal(t, "worker-1", pc.name)
	require.Len(t, pc.args, 3)
	require.Len(t, pc.kwargs, 1)
	require.Equal(t, []string{"flag"}, pc.kwargKeys)

	rehydrated, err := rehydrateArgs(pc.args, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two", 3.0}, rehydrated)
}

func TestBuildControlEndpointTransferManifest(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()

	blob, files, endpoints, err := buildControl("my.target", false, "",
		[]any{w},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Len(t, endpoints, 1)
	assert.Equal(t, w, endpoints[0])

	pc, err := parseControl(blob)
	require.NoError(t, err)
	require.Len(t, pc.args, 1)
	assert.Equal(t, "write", pc.args[0].Kind)
	assert.Equal(t, 0, pc.args[0].FDStart)
	assert.Equal(t, "", pc.args[0].Codec) // default codec serializes as ""
}

func TestBuildControlRejectsUnnamedCustomCodecEndpoint(t *testing.T) {
	_, w, err := Pipe(WithCodec(
		func(v any) ([]byte, error) { return nil, nil },
		func(b []byte) (any, error) { return nil, nil },
	))
	require.NoError(t, err)
	defer w.Release()

	_, _, _, err = buildControl("my.target", false, "", []any{w}, nil)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestParseControlMissingTargetErrors(t *testing.T) {
	_, err := parseControl([]byte(`{"daemon":false}`))
	assert.Error(t, err)
}
