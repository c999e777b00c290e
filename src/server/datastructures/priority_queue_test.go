package datastructures_test

import (
	"fairq/src/server/datastructures"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue_EnqueueAndDequeue(t *testing.T) {
	q := datastructures.NewPriorityQueue[float64, int](3)

	q.Enqueue(1, 20.0)
	q.Enqueue(2, 10.0)
	q.Enqueue(3, 100.0)

	// { 10.0: 2, 20.0: 1, 100.0: 3 }
	val, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 2, val)

	// { 20.0: 1, 100.0: 3 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, val)

	// { 100.0: 3 }
	q.Enqueue(5, 5.0)

	// { 5.0: 5, 100.0: 3 }
	val, ok = q.Peek()
	assert.True(t, ok)
	assert.Equal(t, 5, val)
	assert.Equal(t, 2, q.Len())

	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 5, val)

	// { 100.0: 3 }
	val, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 3, val)

	// { }
	_, ok = q.Dequeue()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

// Test if equal priorities are dequeued in insertion order.
func TestPriorityQueue_Ties(t *testing.T) {
	q := datastructures.NewPriorityQueue[float64, string](0)

	q.Enqueue("a", 1.0)
	q.Enqueue("b", 1.0)
	q.Enqueue("c", 0.5)
	q.Enqueue("d", 1.0)

	var got []string
	for q.Len() > 0 {
		val, _ := q.Dequeue()
		got = append(got, val)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, got)
}

func TestPriorityQueue_Reprioritize(t *testing.T) {
	keys := map[string]float64{"a": 1, "b": 2, "c": 3}

	q := datastructures.NewPriorityQueue[float64, string](3)
	for k, v := range keys {
		q.Enqueue(k, v)
	}

	// invert the order
	q.Reprioritize(func(k string) float64 { return -keys[k] })

	var got []string
	for q.Len() > 0 {
		val, _ := q.Dequeue()
		got = append(got, val)
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}
