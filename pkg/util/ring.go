package util

import (
	"math"
	"sync"
)

// Ring is a fixed-size window that overwrites its oldest value once full.
type Ring[T any] struct {
	mu    sync.RWMutex
	data  []T
	front int
	size  int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends v and reports whether an older value was overwritten.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.data) {
		r.data[r.front] = v
		r.front = (r.front + 1) % len(r.data)
		return true
	}
	r.data[(r.front+r.size)%len(r.data)] = v
	r.size++
	return false
}

// Get returns the i-th oldest value.
func (r *Ring[T]) Get(i int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	return r.data[(r.front+i)%len(r.data)], true
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	return r.Get(r.Len() - 1)
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Ring[T]) Cap() int { return len(r.data) }

// Values copies the window oldest first.
func (r *Ring[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(r.front+i)%len(r.data)]
	}
	return out
}

func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.front, r.size = 0, 0
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

// ZScore is (x-mean)/std over xs, or 0 when xs has no spread.
func ZScore(xs []float64, x float64) float64 {
	mean, std := MeanStd(xs)
	if std == 0 {
		return 0
	}
	return (x - mean) / std
}
