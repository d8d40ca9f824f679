package tts

import (
	"container/heap"
	"sync"
)

// resequencer restores submission order. Workers complete jobs in
// whatever order their engines finish; the release loop takes artifacts
// back out strictly by sequence number. A completed job without an
// artifact frees its slot so the stream never stalls on a failure.
type resequencer struct {
	mu      sync.Mutex
	changed chan struct{}
	next    uint64
	ready   pendingHeap
	closed  bool
}

type pendingItem struct {
	job Job
	art *Artifact
}

func newResequencer() *resequencer {
	return &resequencer{next: 1, changed: make(chan struct{})}
}

// signal wakes the release loop. Caller must hold mu.
func (r *resequencer) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// complete records the outcome of a job. A nil artifact means failure,
// cancellation, or an engine that played the audio remotely; the slot is
// consumed either way.
func (r *resequencer) complete(j Job, art *Artifact) {
	r.mu.Lock()
	heap.Push(&r.ready, pendingItem{job: j, art: art})
	r.signal()
	r.mu.Unlock()
}

// awaitNext blocks until the next artifact in sequence is available,
// skipping freed slots. After close it drains the remaining artifacts in
// sequence order and then reports false.
func (r *resequencer) awaitNext() (*Artifact, bool) {
	r.mu.Lock()
	for {
		for len(r.ready) > 0 && (r.ready[0].job.Seq == r.next || r.closed) {
			item := heap.Pop(&r.ready).(pendingItem)
			r.next = item.job.Seq + 1
			if item.art != nil {
				r.mu.Unlock()
				return item.art, true
			}
		}
		if r.closed {
			r.mu.Unlock()
			return nil, false
		}
		wait := r.changed
		r.mu.Unlock()
		<-wait
		r.mu.Lock()
	}
}

// drop discards the artifacts of completed-but-unreleased jobs matching
// pred. Their slots stay consumed so ordering still advances.
func (r *resequencer) drop(pred func(Job) bool, discard func(string)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.ready {
		item := &r.ready[i]
		if item.art == nil || !pred(item.job) {
			continue
		}
		discard(item.art.Path)
		item.art = nil
		n++
	}
	return n
}

// close makes awaitNext drain and return false once the heap empties.
// Idempotent.
func (r *resequencer) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.signal()
	}
	r.mu.Unlock()
}

type pendingHeap []pendingItem

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].job.Seq < h[j].job.Seq }
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = pendingItem{}
	*h = old[:n-1]
	return item
}
