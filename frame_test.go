package coopipc

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := []byte("hello, coopipc")
	go func() {
		require.NoError(t, writeFrame(w, payload))
	}()

	got, err := readFrame(r, false)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameReadFrameEmptyPayload(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	go func() {
		require.NoError(t, writeFrame(w, []byte{}))
	}()

	got, err := readFrame(r, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, got)
}

func TestMaxFrameLenMatchesProtocolCeiling(t *testing.T) {
	assert.EqualValues(t, 1<<31-1, maxFrameLen)
}

func TestReadFrameCleanEOFBetweenFrames(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, w.Close()) // close immediately: no bytes ever written

	_, err = readFrame(r, false)
	assert.True(t, errors.Is(err, ErrEOF))
}

func TestReadFrameMidFrameTruncationIsIOError(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	go func() {
		// Write a length prefix promising 10 bytes, then only send 3 and
		// close — a truncated frame, not a clean EOF-at-boundary.
		var prefix [4]byte
		prefix[3] = 10
		w.Write(prefix[:])
		w.Write([]byte{1, 2, 3})
		w.Close()
	}()

	_, err = readFrame(r, false)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestTranslateIOError(t *testing.T) {
	assert.Nil(t, translateIOError(nil))
	assert.True(t, errors.Is(translateIOError(io.EOF), ErrIO))
	assert.True(t, errors.Is(translateIOError(io.ErrUnexpectedEOF), ErrIO))
	assert.True(t, errors.Is(translateIOError(errors.New("boom")), ErrIO))
}
