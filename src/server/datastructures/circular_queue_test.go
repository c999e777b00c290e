package datastructures_test

import (
	"fairq/src/server/datastructures"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularQueue_EnqueueAndDequeue(t *testing.T) {
	q := datastructures.NewCircularQueue[int](3)

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	assert.Equal(t, 3, q.Len())

	// { 1, 2, 3 }
	val, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, val)

	// { 2, 3 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 2, val)

	// { 3 }
	q.Enqueue(5)

	// { 3, 5 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 3, val)

	// { 5 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 5, val)

	// { }
	_, ok = q.Dequeue()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())

	// { }
	q.Enqueue(6)

	// { 6 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 6, val)
}

// Test if the queue keeps FIFO order while growing past a wrapped head.
func TestCircularQueue_Grow(t *testing.T) {
	q := datastructures.NewCircularQueue[int](2)

	q.Enqueue(1)
	q.Enqueue(2)
	val, _ := q.Dequeue()
	assert.Equal(t, 1, val)

	// head is now in the middle of the buffer
	for i := 3; i <= 10; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 9, q.Len())

	front, ok := q.Front()
	assert.True(t, ok)
	assert.Equal(t, 2, front)

	for want := 2; want <= 10; want++ {
		val, ok := q.Dequeue()
		assert.True(t, ok)
		assert.Equal(t, want, val)
	}
	assert.True(t, q.IsEmpty())
}

func TestCircularQueue_ZeroValue(t *testing.T) {
	var q datastructures.CircularQueue[string]

	_, ok := q.Front()
	assert.False(t, ok)

	q.Enqueue("a")
	val, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "a", val)
}
