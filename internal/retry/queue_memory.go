package retry

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue is a process-local min-heap of due times. Entries are lost on restart.
type MemoryQueue struct {
	mu    sync.Mutex
	h     entryHeap
	index map[string]*heapItem
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{index: make(map[string]*heapItem)}
}

var _ Queue = (*MemoryQueue)(nil)

type heapItem struct {
	e   Entry
	pos int
}

type entryHeap []*heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].e.DueAt.Equal(h[j].e.DueAt) {
		return h[i].e.CallID < h[j].e.CallID
	}
	return h[i].e.DueAt.Before(h[j].e.DueAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *entryHeap) Push(x any) {
	it := x.(*heapItem)
	it.pos = len(*h)
	*h = append(*h, it)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	it.pos = -1
	return it
}

func (q *MemoryQueue) Put(_ context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.index[e.CallID]; ok {
		it.e = e
		heap.Fix(&q.h, it.pos)
		return nil
	}
	it := &heapItem{e: e}
	heap.Push(&q.h, it)
	q.index[e.CallID] = it
	return nil
}

func (q *MemoryQueue) PutIfAbsent(_ context.Context, e Entry) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[e.CallID]; ok {
		return false, nil
	}
	it := &heapItem{e: e}
	heap.Push(&q.h, it)
	q.index[e.CallID] = it
	return true, nil
}

func (q *MemoryQueue) Get(_ context.Context, callID string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.index[callID]
	if !ok {
		return Entry{}, false, nil
	}
	return it.e, true, nil
}

func (q *MemoryQueue) Remove(_ context.Context, callID string, attempt int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.index[callID]
	if !ok || (attempt > 0 && it.e.Attempt != attempt) {
		return false, nil
	}
	heap.Remove(&q.h, it.pos)
	delete(q.index, callID)
	return true, nil
}

func (q *MemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for q.h.Len() > 0 && (limit <= 0 || len(out) < limit) {
		top := q.h[0]
		if top.e.DueAt.After(now) {
			break
		}
		heap.Pop(&q.h)
		delete(q.index, top.e.CallID)
		out = append(out, top.e)
	}
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len(), nil
}
