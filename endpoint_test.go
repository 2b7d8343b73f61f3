package coopipc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipePutGetRoundTrip(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	require.NoError(t, w.Put("hello"))
	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestPipeMultipleMessagesPreserveOrder(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Put(i))
	}
	for i := 0; i < 5; i++ {
		v, err := r.Get()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestCloseThenPutIsAlreadyClosed(t *testing.T) {
	_, w, err := Pipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Put("x")
	assert.True(t, errors.Is(err, ErrAlreadyClosed))
}

func TestDoubleCloseIsAlreadyClosed(t *testing.T) {
	r, _, err := Pipe()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	err = r.Close()
	assert.True(t, errors.Is(err, ErrAlreadyClosed))
}

func TestReleaseSwallowsAlreadyClosed(t *testing.T) {
	r, _, err := Pipe()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.NoError(t, r.Release())
}

func TestGetTimeoutExpiresWithNoData(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	_, err = r.Get(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, isTimeout(err) || errors.Is(err, ErrIO))
}

func TestGetAcceptsCastableTimeout(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	require.NoError(t, w.Put(1))
	v, err := r.Get("1s")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGetInvalidTimeoutIsMisuse(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Release()
	defer w.Release()

	_, err = r.Get("not-a-duration")
	assert.True(t, errors.Is(err, ErrMisuse))
}

func TestLockRejectsRecursiveCallFromSameGoroutine(t *testing.T) {
	_, w, err := Pipe()
	require.NoError(t, err)
	defer w.Release()

	var recursiveErr error
	origPut := func(v any) error {
		// simulate the endpoint's own lock still held by calling lock
		// again directly, exactly what a recursive Put would hit.
		recursiveErr = w.lk.lock()
		if recursiveErr == nil {
			w.lk.unlock()
		}
		return nil
	}

	require.NoError(t, w.lk.lock())
	origPut(nil)
	w.lk.unlock()

	assert.True(t, errors.Is(recursiveErr, ErrMisuse))
}

func TestLockIsUsableFromDifferentGoroutines(t *testing.T) {
	_, w, err := Pipe()
	require.NoError(t, err)
	defer w.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.lk.lock(); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				w.lk.unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, successes)
}

func TestDuplexPipePutGetBothDirections(t *testing.T) {
	a, b, err := DuplexPipe()
	require.NoError(t, err)
	defer a.Release()
	defer b.Release()

	require.NoError(t, a.Put("from a"))
	v, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, "from a", v)

	require.NoError(t, b.Put("from b"))
	v, err = a.Get()
	require.NoError(t, err)
	assert.Equal(t, "from b", v)
}

func TestDuplexDoubleCloseIsAlreadyClosed(t *testing.T) {
	a, b, err := DuplexPipe()
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, a.Close())

	err = a.Close()
	assert.True(t, errors.Is(err, ErrAlreadyClosed))
}

func TestOwnerPIDMismatchIsMisuse(t *testing.T) {
	_, w, err := Pipe()
	require.NoError(t, err)
	defer w.Release()

	w.ownerPID = w.ownerPID + 1 // simulate use from a different process
	err = w.Put("x")
	assert.True(t, errors.Is(err, ErrMisuse))
}
