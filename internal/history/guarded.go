package history

import "sync"

// Guarded is a Ring shared between goroutines.
//
// Every method holds the lock for the whole operation, so a reader never
// observes a ring in the middle of a Resize. Use Do when several operations
// must appear atomic to other goroutines (push, resize, then read the window).
type Guarded[T any] struct {
	mu   sync.Mutex
	ring *Ring[T]
}

// NewGuarded creates a shared ring with the given capacity.
func NewGuarded[T any](capacity int) (*Guarded[T], error) {
	r, err := New[T](capacity)
	if err != nil {
		return nil, err
	}
	return &Guarded[T]{ring: r}, nil
}

// Do runs fn with the lock held. fn must not retain r after it returns.
func (g *Guarded[T]) Do(fn func(r *Ring[T])) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.ring)
}

// Push appends v, evicting the oldest value when full.
func (g *Guarded[T]) Push(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ring.Push(v)
}

// Pop removes and returns the oldest value.
func (g *Guarded[T]) Pop() (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ring.Pop()
}

// Latest returns a copy of the n most recent values, oldest first.
func (g *Guarded[T]) Latest(n int) ([]T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ring.Latest(n)
}

// Resize changes the capacity, keeping the newest values.
func (g *Guarded[T]) Resize(newCapacity int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ring.Resize(newCapacity)
}

// Len returns the number of values held.
func (g *Guarded[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ring.Len()
}

// Cap returns the capacity.
func (g *Guarded[T]) Cap() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ring.Cap()
}
