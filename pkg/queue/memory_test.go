package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_EnqueueOrder(t *testing.T) {
	q := NewInMemoryQueue(4)

	require.NoError(t, q.Enqueue("one"))
	require.NoError(t, q.Enqueue("two"))
	require.NoError(t, q.Enqueue("three"))
	assert.Equal(t, 3, q.Size())

	assert.Equal(t, "one", <-q.Items())
	assert.Equal(t, "two", <-q.Items())
	assert.Equal(t, "three", <-q.Items())
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_EnqueueFull(t *testing.T) {
	q := NewInMemoryQueue(1)

	require.NoError(t, q.Enqueue("one"))

	err := q.Enqueue("two")
	assert.True(t, IsQueueFull(err))
	assert.Equal(t, 1, q.Size())
}

func TestInMemoryQueue_ClearQueue(t *testing.T) {
	q := NewInMemoryQueue(4)

	require.NoError(t, q.Enqueue("one"))
	require.NoError(t, q.Enqueue("two"))

	q.ClearQueue()
	assert.Equal(t, 0, q.Size())

	// the queue is usable after a clear
	require.NoError(t, q.Enqueue("three"))
	assert.Equal(t, "three", <-q.Items())
}
