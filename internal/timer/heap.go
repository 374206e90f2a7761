// Package timer implements an indexed binary min-heap of idle-connection
// deadlines keyed by file descriptor, giving O(log n) add/adjust/cancel.
package timer

import "time"

// Callback fires when a node's deadline is reached or when DoWork forces it
// early. It receives the node's id (the connection's fd).
type Callback func(id int)

type node struct {
	id      int
	expires time.Time
	cb      Callback
}

// Heap is an indexed min-heap ordered by expiry. ref maps id to its current
// slot in heap, and is kept in sync by every swap so that lookups by id
// stay O(1).
type Heap struct {
	heap []node
	ref  map[int]int
	now  func() time.Time
}

// New returns an empty timer heap.
func New() *Heap {
	return &Heap{ref: make(map[int]int), now: time.Now}
}

// Len reports the number of live nodes.
func (h *Heap) Len() int { return len(h.heap) }

// Add inserts a new deadline for id, or, if id is already present, updates
// its deadline in place and replaces its callback with cb.
func (h *Heap) Add(id int, timeout time.Duration, cb Callback) {
	if idx, ok := h.ref[id]; ok {
		h.heap[idx].expires = h.now().Add(timeout)
		h.heap[idx].cb = cb
		if !h.siftDown(idx) {
			h.siftUp(idx)
		}
		return
	}
	h.heap = append(h.heap, node{id: id, expires: h.now().Add(timeout), cb: cb})
	idx := len(h.heap) - 1
	h.ref[id] = idx
	h.siftUp(idx)
}

// Adjust resets id's deadline to now+timeout. Callers only ever extend
// deadlines, so only a sift-down is required.
func (h *Heap) Adjust(id int, timeout time.Duration) {
	idx, ok := h.ref[id]
	if !ok {
		return
	}
	h.heap[idx].expires = h.now().Add(timeout)
	h.siftDown(idx)
}

// DoWork invokes id's callback immediately and removes the node, regardless
// of whether its deadline has passed.
func (h *Heap) DoWork(id int) {
	idx, ok := h.ref[id]
	if !ok {
		return
	}
	cb := h.heap[idx].cb
	h.del(idx)
	if cb != nil {
		cb(id)
	}
}

// Remove cancels id's timer without invoking its callback.
func (h *Heap) Remove(id int) {
	idx, ok := h.ref[id]
	if !ok {
		return
	}
	h.del(idx)
}

// Pop removes the root node without invoking its callback.
func (h *Heap) Pop() {
	if len(h.heap) == 0 {
		return
	}
	h.del(0)
}

// Tick invokes and removes every node whose deadline has passed.
func (h *Heap) Tick() {
	now := h.now()
	for len(h.heap) > 0 && !h.heap[0].expires.After(now) {
		id := h.heap[0].id
		cb := h.heap[0].cb
		h.del(0)
		if cb != nil {
			cb(id)
		}
	}
}

// NextTickMS fires all expired nodes (via Tick) and returns the number of
// milliseconds until the next deadline, or -1 if the heap is empty.
func (h *Heap) NextTickMS() int {
	h.Tick()
	if len(h.heap) == 0 {
		return -1
	}
	d := h.heap[0].expires.Sub(h.now())
	if d < 0 {
		d = 0
	}
	return int(d.Milliseconds())
}

// Clear removes every node without invoking callbacks.
func (h *Heap) Clear() {
	h.heap = h.heap[:0]
	h.ref = make(map[int]int)
}

func (h *Heap) less(i, j int) bool { return h.heap[i].expires.Before(h.heap[j].expires) }

// swap exchanges the nodes at i and j and maps each side of the swap to
// its own new index in ref.
func (h *Heap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.ref[h.heap[i].id] = i
	h.ref[h.heap[j].id] = j
}

func (h *Heap) siftUp(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

func (h *Heap) siftDown(i int) bool {
	n := len(h.heap)
	moved := false
	for {
		smallest := i
		if l := 2*i + 1; l < n && h.less(l, smallest) {
			smallest = l
		}
		if r := 2*i + 2; r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
		moved = true
	}
	return moved
}

// del removes the node at index idx by swapping it with the last node,
// shrinking the slice, then re-heapifying from idx.
func (h *Heap) del(idx int) {
	last := len(h.heap) - 1
	h.swap(idx, last)
	delete(h.ref, h.heap[last].id)
	h.heap = h.heap[:last]
	if idx < len(h.heap) {
		if !h.siftDown(idx) {
			h.siftUp(idx)
		}
	}
}
