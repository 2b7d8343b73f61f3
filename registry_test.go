package coopipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrable struct{ id string }

func (f fakeRegistrable) ID() string { return f.id }

func TestRegistryInsertRemoveSnapshot(t *testing.T) {
	r := newRegistry()

	a := fakeRegistrable{id: "a"}
	b := fakeRegistrable{id: "b"}
	r.insert(a)
	r.insert(b)

	snap := r.snapshot()
	ids := map[string]bool{}
	for _, ep := range snap {
		ids[ep.ID()] = true
	}
	require.Len(t, snap, 2)
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])

	r.remove("a")
	snap = r.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].ID())
}

func TestRegistryReplaceClearsPrior(t *testing.T) {
	r := newRegistry()
	r.insert(fakeRegistrable{id: "stale"})

	r.replace([]registrable{fakeRegistrable{id: "fresh"}})

	snap := r.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "fresh", snap[0].ID())
}
