package datastructures

const minCircularQueueCapacity = 4

// A growable circular queue.
//
// The buffer doubles when full, so Enqueue never fails. The zero value is an
// empty queue ready to use.
type CircularQueue[T any] struct {
	buffer []T
	head   int
	len    int
}

// Create a new circular queue with room for capacity items before the first
// growth.
func NewCircularQueue[T any](capacity int) CircularQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return CircularQueue[T]{
		buffer: make([]T, capacity),
	}
}

func (q *CircularQueue[T]) Enqueue(item T) {
	if q.len == len(q.buffer) {
		q.grow()
	}

	tail := (q.head + q.len) % len(q.buffer)
	q.buffer[tail] = item

	q.len++
}

func (q *CircularQueue[T]) Dequeue() (val T, ok bool) {
	if q.len == 0 {
		ok = false
		return
	}

	var zero T
	val = q.buffer[q.head]
	q.buffer[q.head] = zero // avoid memory leak
	ok = true

	q.head = (q.head + 1) % len(q.buffer)
	q.len--

	return
}

// Front returns the oldest item without removing it.
func (q *CircularQueue[T]) Front() (val T, ok bool) {
	if q.len == 0 {
		return
	}
	return q.buffer[q.head], true
}

func (q *CircularQueue[T]) Len() int {
	return q.len
}

func (q *CircularQueue[T]) IsEmpty() bool {
	return q.len == 0
}

func (q *CircularQueue[T]) grow() {
	size := len(q.buffer) * 2
	if size < minCircularQueueCapacity {
		size = minCircularQueueCapacity
	}

	buffer := make([]T, size)
	for i := 0; i < q.len; i++ {
		buffer[i] = q.buffer[(q.head+i)%len(q.buffer)]
	}

	q.buffer = buffer
	q.head = 0
}
