package book

import "container/heap"

// sideHeap tracks the prices of populated levels on one side of the book,
// keeping the best price on top for O(1) peeks: highest first for bids,
// lowest first for asks. It holds prices only; the level queues live in
// the Book's side maps.
type sideHeap struct {
	vals []int64
	max  bool
}

func newSideHeap(max bool) *sideHeap { return &sideHeap{max: max} }

// heap.Interface
func (h *sideHeap) Len() int { return len(h.vals) }
func (h *sideHeap) Less(i, j int) bool {
	if h.max {
		return h.vals[i] > h.vals[j]
	}
	return h.vals[i] < h.vals[j]
}
func (h *sideHeap) Swap(i, j int) { h.vals[i], h.vals[j] = h.vals[j], h.vals[i] }
func (h *sideHeap) Push(x interface{}) {
	h.vals = append(h.vals, x.(int64))
}
func (h *sideHeap) Pop() interface{} {
	n := len(h.vals)
	v := h.vals[n-1]
	h.vals = h.vals[:n-1]
	return v
}

// PushPrice registers a newly populated price level
func (h *sideHeap) PushPrice(p int64) { heap.Push(h, p) }

// Best returns the top price without removing it
func (h *sideHeap) Best() (int64, bool) {
	if len(h.vals) == 0 {
		return 0, false
	}
	return h.vals[0], true
}

// RemovePrice drops an emptied price level; no-op if the price is absent
func (h *sideHeap) RemovePrice(p int64) {
	for i, v := range h.vals {
		if v == p {
			heap.Remove(h, i)
			return
		}
	}
}
