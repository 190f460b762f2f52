package notify

// BoundedHistory keeps the most recently appended values up to a fixed
// capacity, in insertion order. The oldest value is evicted first.
//
// It is not safe for concurrent use.
type BoundedHistory[T any] struct {
	capacity int
	values   []T
}

// NewBoundedHistory returns an empty history. Capacity below 1 is treated as 1.
func NewBoundedHistory[T any](capacity int) *BoundedHistory[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedHistory[T]{capacity: capacity, values: make([]T, 0, capacity)}
}

// Append records v, dropping the oldest value if the history is full.
func (h *BoundedHistory[T]) Append(v T) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:len(h.values)-1]
	}
	h.values = append(h.values, v)
}

// Values returns a copy of the retained values, oldest first.
func (h *BoundedHistory[T]) Values() []T {
	return append([]T(nil), h.values...)
}

func (h *BoundedHistory[T]) Len() int { return len(h.values) }

func (h *BoundedHistory[T]) Cap() int { return h.capacity }
