// Package transcript retains the recent pipeline output (spoken lines,
// command acknowledgements, engine switches) and streams it to feed
// subscribers.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a transcript entry.
type Kind string

const (
	// KindSpeech is a line handed to speech synthesis. Engine and Detail
	// are set when the line is a translation of Detail.
	KindSpeech Kind = "speech"
	// KindCommand is the acknowledgement text of a chat command.
	KindCommand Kind = "command"
	// KindEngine records a translation-engine switch.
	KindEngine Kind = "engine"
	// KindSystem covers service notices such as the time signal.
	KindSystem Kind = "system"
)

// Entry is one line of the transcript. Seq increases by one per appended
// entry, so clients can detect replayed history after a reconnect.
type Entry struct {
	ID     string    `json:"id"`
	Seq    int64     `json:"seq"`
	Kind   Kind      `json:"kind"`
	User   string    `json:"user,omitempty"`
	Role   string    `json:"role,omitempty"`
	Text   string    `json:"text"`
	Detail string    `json:"detail,omitempty"`
	Lang   string    `json:"lang,omitempty"`
	Engine string    `json:"engine,omitempty"`
	At     time.Time `json:"at"`
}

const (
	defaultCapacity     = 512
	subscriberBufferLen = 256
)

// Log is a fixed-capacity ring of transcript entries with subscriber
// fan-out. Appends never block: a subscriber that stops draining loses
// entries instead of stalling the pipeline.
type Log struct {
	mu          sync.RWMutex
	buf         []Entry
	head        int
	size        int
	lastSeq     int64
	subscribers map[int]chan Entry
	nextSubID   int
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{
		buf:         make([]Entry, capacity),
		subscribers: make(map[int]chan Entry),
	}
}

// Append stores the entry, stamping ID, Seq, and At when unset, and fans
// it out to subscribers. The stamped entry is returned.
func (l *Log) Append(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeq++
	entry.Seq = l.lastSeq

	if l.size < len(l.buf) {
		l.buf[(l.head+l.size)%len(l.buf)] = entry
		l.size++
	} else {
		l.buf[l.head] = entry
		l.head = (l.head + 1) % len(l.buf)
	}

	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	return entry
}

// History returns the most recent entries in chronological order, all of
// them when limit is not positive.
func (l *Log) History(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.historyLocked(limit)
}

func (l *Log) historyLocked(limit int) []Entry {
	n := l.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	start := l.size - n
	for i := 0; i < n; i++ {
		out[i] = l.buf[(l.head+start+i)%len(l.buf)]
	}
	return out
}

// Subscribe registers a listener for entries appended from now on. The
// returned cancel closes the channel and unregisters it.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	_, ch, cancel := l.attach(-1)
	return ch, cancel
}

// Attach subscribes and returns the retained history in the same step, so
// no entry falls between replay and live delivery. A non-positive limit
// replays everything retained.
func (l *Log) Attach(limit int) ([]Entry, <-chan Entry, func()) {
	if limit <= 0 {
		limit = 0
	}
	return l.attach(limit)
}

func (l *Log) attach(historyLimit int) ([]Entry, <-chan Entry, func()) {
	ch := make(chan Entry, subscriberBufferLen)

	l.mu.Lock()
	var history []Entry
	if historyLimit >= 0 {
		history = l.historyLocked(historyLimit)
	}
	l.nextSubID++
	id := l.nextSubID
	l.subscribers[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.subscribers[id]; ok {
			delete(l.subscribers, id)
			close(c)
		}
	}
	return history, ch, cancel
}

// Len reports how many entries are retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}
