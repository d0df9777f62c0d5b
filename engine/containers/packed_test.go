package containers

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/stretchr/testify/require"
)

type testElement struct {
	name          string
	id            ElementID
	deinitialized bool
}

func (e *testElement) InitializeElement(id ElementID) {
	e.id = id
}

func (e *testElement) DeinitializeElement() {
	e.deinitialized = true
}

func TestPackedElementManager_RemoveKeepsArrayDense(t *testing.T) {
	pm, err := NewPackedElementManager[*testElement](3)
	require.NoError(t, err)

	a, err := pm.AddElement(&testElement{name: "a"})
	require.NoError(t, err)
	b, err := pm.AddElement(&testElement{name: "b"})
	require.NoError(t, err)
	c, err := pm.AddElement(&testElement{name: "c"})
	require.NoError(t, err)

	_, err = pm.AddElement(&testElement{name: "d"})
	require.ErrorIs(t, err, core.ErrCapacityExceeded)

	cID := c.id
	require.NoError(t, pm.RemoveElement(b.id))

	require.Equal(t, uint32(2), pm.NumberOfElements())
	require.False(t, pm.IsElementIDValid(b.id))
	require.True(t, b.deinitialized)

	// c moved into the slot b occupied and kept its id
	require.Same(t, c, pm.ElementByIndex(1))
	require.Equal(t, cID, c.id)
	require.Equal(t, cID, pm.ElementIDByIndex(1))
	require.Same(t, c, pm.GetElementByID(cID))
	require.Same(t, a, pm.GetElementByID(a.id))
}

func TestPackedElementManager_StaleIDsAreRejected(t *testing.T) {
	pm, err := NewPackedElementManager[*testElement](1)
	require.NoError(t, err)

	first, err := pm.AddElement(&testElement{name: "first"})
	require.NoError(t, err)
	staleID := first.id
	require.NoError(t, pm.RemoveElement(staleID))
	require.ErrorIs(t, pm.RemoveElement(staleID), core.ErrInvalidElementID)

	// the slot is reused with a bumped generation
	second, err := pm.AddElement(&testElement{name: "second"})
	require.NoError(t, err)
	require.Equal(t, uint32(staleID)&IndexMask, uint32(second.id)&IndexMask)
	require.NotEqual(t, staleID, second.id)

	_, ok := pm.TryGetElementByID(staleID)
	require.False(t, ok)
	got, ok := pm.TryGetElementByID(second.id)
	require.True(t, ok)
	require.Same(t, second, got)

	require.False(t, pm.IsElementIDValid(InvalidElementID))
	require.Panics(t, func() { pm.GetElementByID(staleID) })
}

func TestPackedElementManager_FreeListRecycling(t *testing.T) {
	pm, err := NewPackedElementManager[*testElement](4)
	require.NoError(t, err)

	ids := make([]ElementID, 0, 4)
	for i := 0; i < 4; i++ {
		e, err := pm.AddElement(&testElement{})
		require.NoError(t, err)
		ids = append(ids, e.id)
	}
	// drain completely from a full manager, then fill again
	for _, id := range ids {
		require.NoError(t, pm.RemoveElement(id))
	}
	require.Equal(t, uint32(0), pm.NumberOfElements())
	for i := 0; i < 4; i++ {
		_, err := pm.AddElement(&testElement{})
		require.NoError(t, err)
	}
	require.Equal(t, uint32(4), pm.NumberOfElements())
	for _, id := range ids {
		require.False(t, pm.IsElementIDValid(id))
	}

	pm.Clear()
	require.Equal(t, uint32(0), pm.NumberOfElements())
}

func TestPackedElementManager_GenerationWrapSkipsInvalidID(t *testing.T) {
	pm, err := NewPackedElementManager[*testElement](1)
	require.NoError(t, err)

	var previous ElementID
	for i := 0; i < 0x10000+2; i++ {
		e, err := pm.AddElement(&testElement{})
		require.NoError(t, err)
		require.NotEqual(t, InvalidElementID, e.id, "reuse %d", i)
		require.NotEqual(t, previous, e.id, "reuse %d", i)
		require.True(t, pm.IsElementIDValid(e.id))
		previous = e.id
		require.NoError(t, pm.RemoveElement(e.id))
	}
	// the generation wrapped around past 0 back to 1
	require.Equal(t, ElementID(3*NewObjectIDAdd), previous)
}

func TestNewPackedElementManager_Capacity(t *testing.T) {
	_, err := NewPackedElementManager[*testElement](0)
	require.ErrorIs(t, err, core.ErrCapacityExceeded)
	_, err = NewPackedElementManager[*testElement](MaxElements + 1)
	require.Error(t, err)
}
