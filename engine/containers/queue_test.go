package containers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](2)
	require.True(t, q.IsEmpty())

	_, err := q.Dequeue()
	require.ErrorIs(t, err, ErrQueueEmpty)

	q.Enqueue(1)
	q.Enqueue(2)
	v, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// wrap the write index, then force a grow while wrapped
	q.Enqueue(3)
	q.Enqueue(4)
	q.Enqueue(5)
	require.Equal(t, 4, q.Len())

	front, err := q.Peek()
	require.NoError(t, err)
	require.Equal(t, 2, front)

	for _, want := range []int{2, 3, 4, 5} {
		v, err := q.Dequeue()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	require.True(t, q.IsEmpty())
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue[string](0)
	q.Enqueue("a")
	q.Enqueue("b")
	q.Clear()
	require.Equal(t, 0, q.Len())

	q.Enqueue("c")
	v, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, "c", v)
}
