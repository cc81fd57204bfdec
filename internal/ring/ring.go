// Package ring provides a fixed capacity FIFO that overwrites its oldest
// element when full.
package ring

// Ring is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// New returns a ring holding at most capacity elements. A capacity below one
// is raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest element is dropped and
// returned with ok set.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = v
		r.size++
		return evicted, false
	}
	evicted = r.items[r.start]
	r.items[r.start] = v
	r.start = (r.start + 1) % capacity
	return evicted, true
}

// Len is the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap is the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// At returns the i-th element counting from the oldest.
func (r *Ring[T]) At(i int) T {
	return r.items[(r.start+i)%len(r.items)]
}

// Items copies the contents oldest first.
func (r *Ring[T]) Items() []T {
	return r.Last(r.size)
}

// Last copies the newest n elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.At(offset + i)
	}
	return out
}

// Newest returns the most recently pushed element.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.At(r.size - 1), true
}
