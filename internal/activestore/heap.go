package activestore

import "time"

// heapEntry is the container/heap element; startedHeap orders by StartedAt
// so evictOldestLocked always removes the race with the earliest StartedAt;
// reads and updates do not change a race's position.
type heapEntry struct {
	id        string
	startedAt time.Time
}

type startedHeap []heapEntry

func (h startedHeap) Len() int { return len(h) }
func (h startedHeap) Less(i, j int) bool { return h[i].startedAt.Before(h[j].startedAt) }
func (h startedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *startedHeap) Push(x any) {
	*h = append(*h, x.(heapEntry))
}

func (h *startedHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// indexOf returns the slice position of id, or -1. Used with heap.Remove so
// a replace or explicit delete keeps the min-heap invariant intact instead
// of corrupting it with a raw swap-and-truncate.
func (h *startedHeap) indexOf(id string) int {
	for i, e := range *h {
		if e.id == id {
			return i
		}
	}
	return -1
}
