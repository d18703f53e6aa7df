package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type item struct {
	payload []byte
	due     time.Time
	seq     uint64
}

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// MemoryDelayQueue is a min-heap ordered by due time, ties broken by insertion order.
type MemoryDelayQueue struct {
	mu   sync.Mutex
	h    itemHeap
	seq  uint64
	dead [][]byte
}

func NewMemoryDelayQueue() *MemoryDelayQueue {
	return &MemoryDelayQueue{}
}

var _ DelayQueue = (*MemoryDelayQueue)(nil)

func (q *MemoryDelayQueue) Schedule(_ context.Context, payload []byte, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.h, item{payload: payload, due: due, seq: q.seq})
	return nil
}

func (q *MemoryDelayQueue) PopDue(_ context.Context, now time.Time, max int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [][]byte
	for q.h.Len() > 0 && (max <= 0 || len(out) < max) {
		if q.h[0].due.After(now) {
			break
		}
		out = append(out, heap.Pop(&q.h).(item).payload)
	}
	return out, nil
}

func (q *MemoryDelayQueue) DeadLetter(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, payload)
	return nil
}

func (q *MemoryDelayQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len(), nil
}

func (q *MemoryDelayQueue) DeadLen(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead), nil
}
