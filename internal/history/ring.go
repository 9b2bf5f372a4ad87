// Package history implements the bounded rolling history of sensor samples.
//
// Ring is a fixed-capacity circular buffer with overwrite-on-full semantics:
// once the buffer is full, every Push silently discards the oldest sample.
// That eviction is the mechanism that keeps memory bounded under an unbounded
// sample stream, so callers must treat it as part of the contract.
package history

import "errors"

// MaxCapacity is the largest capacity a ring accepts.
const MaxCapacity = 1 << 24

var (
	// ErrInvalidCapacity is returned when a ring is created or resized with a
	// capacity outside [1, MaxCapacity]. The ring is left unchanged.
	ErrInvalidCapacity = errors.New("history: capacity out of range")

	// ErrRequestExceedsAvailable is returned by Latest when more samples are
	// requested than the ring currently holds.
	ErrRequestExceedsAvailable = errors.New("history: lookback exceeds available samples")

	// ErrNegativeLookback is returned by Latest for a negative sample count.
	ErrNegativeLookback = errors.New("history: lookback must not be negative")
)

// Ring is a bounded circular buffer.
//
// The occupied logical sequence, oldest to newest, is
// slots[tail], slots[tail+1], ..., slots[tail+count-1] (indices mod capacity).
// Unoccupied slots hold the zero value of T.
//
// Ring is not safe for concurrent use; wrap it in Guarded when it is shared.
type Ring[T any] struct {
	slots []T
	head  int // next write index
	tail  int // index of the oldest element
	count int
}

// New creates an empty ring holding at most capacity values.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, ErrInvalidCapacity
	}
	return &Ring[T]{slots: make([]T, capacity)}, nil
}

// Cap returns the maximum number of values the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Len returns the number of values currently held.
func (r *Ring[T]) Len() int { return r.count }

// IsFull reports whether the next Push will evict the oldest value.
func (r *Ring[T]) IsFull() bool { return r.count == len(r.slots) }

// IsEmpty reports whether the ring holds no values.
func (r *Ring[T]) IsEmpty() bool { return r.count == 0 }

// Push appends v as the newest value.
//
// If the ring is full, the oldest value is overwritten and evicted: Len stays
// at Cap and the tail advances. Push never fails.
func (r *Ring[T]) Push(v T) {
	full := r.IsFull()

	r.slots[r.head] = v
	r.head = (r.head + 1) % len(r.slots)

	if full {
		r.tail = (r.tail + 1) % len(r.slots)
		return
	}
	r.count++
}

// Pop removes and returns the oldest value. It returns false when empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.IsEmpty() {
		return zero, false
	}

	v := r.slots[r.tail]
	r.slots[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.slots)
	r.count--
	return v, true
}

// Latest returns the n most recently pushed values, oldest first.
//
// The returned slice is a copy. Asking for more values than Len returns
// ErrRequestExceedsAvailable and a nil slice; the ring is not modified.
func (r *Ring[T]) Latest(n int) ([]T, error) {
	if n < 0 {
		return nil, ErrNegativeLookback
	}
	if n > r.count {
		return nil, ErrRequestExceedsAvailable
	}
	if r.count == 0 || n == 0 {
		return []T{}, nil
	}

	out := make([]T, n)
	start := (r.tail + r.count - n) % len(r.slots)
	for i := range out {
		out[i] = r.slots[(start+i)%len(r.slots)]
	}
	return out, nil
}

// Resize changes the capacity to newCapacity.
//
// The most recent min(Len, newCapacity) values are kept in their original
// order and become the entire content; older values are dropped. The ring is
// rebuilt from scratch by pushing that suffix into a fresh buffer, so the new
// tail is 0 and the new head is the kept length mod newCapacity.
//
// A capacity outside [1, MaxCapacity] returns ErrInvalidCapacity and leaves
// the ring as is.
func (r *Ring[T]) Resize(newCapacity int) error {
	if newCapacity < 1 || newCapacity > MaxCapacity {
		return ErrInvalidCapacity
	}

	keep, err := r.Latest(min(r.count, newCapacity))
	if err != nil {
		return err
	}

	fresh, err := New[T](newCapacity)
	if err != nil {
		return err
	}
	for _, v := range keep {
		fresh.Push(v)
	}

	*r = *fresh
	return nil
}
