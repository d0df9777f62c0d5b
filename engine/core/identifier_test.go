package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeID_SmallestFirstReuse(t *testing.T) {
	m := NewMakeID(4)

	for want := uint32(0); want <= 4; want++ {
		id, err := m.CreateID()
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	_, err := m.CreateID()
	require.ErrorIs(t, err, ErrIDsExhausted)

	require.NoError(t, m.DestroyID(2))
	id, err := m.CreateID()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)

	require.NoError(t, m.DestroyID(0))
	require.NoError(t, m.DestroyID(1))
	require.Equal(t, uint64(2), m.LargestContinuousRange())
	require.Equal(t, uint64(2), m.AvailableIDs())
	require.Len(t, m.ranges, 1)
}

func TestMakeID_DestroyRejectsFreeIDs(t *testing.T) {
	m := NewMakeID(9)

	// nothing allocated yet
	require.Error(t, m.DestroyID(3))

	for i := 0; i < 5; i++ {
		_, err := m.CreateID()
		require.NoError(t, err)
	}
	require.NoError(t, m.DestroyID(3))
	err := m.DestroyID(3)
	require.True(t, errors.Is(err, ErrInvalidID))

	// out of the universe
	require.ErrorIs(t, m.DestroyID(10), ErrInvalidID)
	// range overlapping the free tail [5, 9]
	require.ErrorIs(t, m.DestroyRangeID(4, 2), ErrInvalidID)
}

func TestMakeID_MergesNeighbours(t *testing.T) {
	m := NewMakeID(9)
	first, err := m.CreateRangeID(10)
	require.NoError(t, err)
	require.Equal(t, uint32(0), first)
	require.Equal(t, uint64(0), m.AvailableIDs())

	require.NoError(t, m.DestroyID(1))
	require.NoError(t, m.DestroyID(5))
	require.NoError(t, m.DestroyID(3))
	require.Len(t, m.ranges, 3)

	// fills both gaps next to 3
	require.NoError(t, m.DestroyID(2))
	require.NoError(t, m.DestroyID(4))
	require.Equal(t, []idRange{{first: 1, last: 5}}, m.ranges)

	require.NoError(t, m.DestroyRangeID(6, 4))
	require.NoError(t, m.DestroyID(0))
	require.Equal(t, []idRange{{first: 0, last: 9}}, m.ranges)
}

func TestMakeID_CreateRange(t *testing.T) {
	m := NewMakeID(15)
	for i := 0; i < 16; i++ {
		_, err := m.CreateID()
		require.NoError(t, err)
	}
	require.NoError(t, m.DestroyRangeID(2, 2))
	require.NoError(t, m.DestroyRangeID(8, 5))

	// the first range is too small, skip to [8, 12]
	id, err := m.CreateRangeID(3)
	require.NoError(t, err)
	require.Equal(t, uint32(8), id)

	id, err = m.CreateRangeID(2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)

	_, err = m.CreateRangeID(3)
	require.ErrorIs(t, err, ErrIDsExhausted)
	require.Equal(t, uint64(2), m.LargestContinuousRange())
}

func TestMakeID_IsID(t *testing.T) {
	m := NewMakeID(7)
	require.False(t, m.IsID(0))

	for i := 0; i < 4; i++ {
		_, err := m.CreateID()
		require.NoError(t, err)
	}
	require.NoError(t, m.DestroyID(1))

	require.True(t, m.IsID(0))
	require.False(t, m.IsID(1))
	require.True(t, m.IsID(2))
	require.True(t, m.IsID(3))
	require.False(t, m.IsID(4))
	require.False(t, m.IsID(8))
}
