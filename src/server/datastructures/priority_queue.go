package datastructures

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

type heapImpl[K constraints.Ordered, T any] []heapItem[K, T]

type heapItem[K constraints.Ordered, T any] struct {
	value    T
	priority K
	seqNo    uint64
}

func (q heapImpl[K, T]) Len() int { return len(q) }

// Smallest priority first, ties in insertion order.
func (q heapImpl[K, T]) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seqNo < q[j].seqNo
}

func (q heapImpl[K, T]) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *heapImpl[K, T]) Push(x any) {
	item := x.(heapItem[K, T])
	*q = append(*q, item)
}

func (q *heapImpl[K, T]) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = heapItem[K, T]{} // avoid memory leak
	*q = old[0 : n-1]
	return item
}

// A min priority queue. Items with equal priority leave in the order they
// were enqueued.
type PriorityQueue[K constraints.Ordered, T any] struct {
	heap  heapImpl[K, T]
	seqNo uint64
}

func NewPriorityQueue[K constraints.Ordered, T any](
	capacity int,
) PriorityQueue[K, T] {
	return PriorityQueue[K, T]{
		heap: make(heapImpl[K, T], 0, capacity),
	}
}

func (q *PriorityQueue[K, T]) Enqueue(value T, priority K) {
	heap.Push(&q.heap, heapItem[K, T]{
		value:    value,
		priority: priority,
		seqNo:    q.seqNo,
	})
	q.seqNo++
}

func (q *PriorityQueue[K, T]) Dequeue() (val T, ok bool) {
	if len(q.heap) == 0 {
		ok = false
		return
	}

	item := heap.Pop(&q.heap).(heapItem[K, T])
	val = item.value
	ok = true
	return
}

// Peek returns the item with the smallest priority without removing it.
func (q *PriorityQueue[K, T]) Peek() (val T, ok bool) {
	if len(q.heap) == 0 {
		return
	}
	return q.heap[0].value, true
}

func (q *PriorityQueue[K, T]) Len() int {
	return len(q.heap)
}

// Reprioritize recomputes the priority of every item and restores the heap.
func (q *PriorityQueue[K, T]) Reprioritize(priority func(T) K) {
	for i := range q.heap {
		q.heap[i].priority = priority(q.heap[i].value)
	}
	heap.Init(&q.heap)
}
