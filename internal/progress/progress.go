package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

type Stage string

const (
	StageStart       Stage = "START"
	StageFetchStart  Stage = "FETCH_START"
	StageFetchEnd    Stage = "FETCH_END"
	StageActionStart Stage = "ACTION_START"
	StageActionEnd   Stage = "ACTION_END"
	StageEnd         Stage = "END"
	StageError       Stage = "ERROR"
)

const (
	StatusError   = -1
	StatusRunning = 0
	StatusDone    = 1
)

type Event struct {
	Stage     Stage          `json:"stage"`
	Status    int            `json:"status"`
	JobID     uint64         `json:"job_id,omitempty"`
	RecordID  uint64         `json:"record_id,omitempty"`
	OwnerID   uint64         `json:"owner_id"`
	AccountID uint64         `json:"account_id"`
	WorkID    string         `json:"work_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}

// Terminal reports whether e closes a run.
func (e Event) Terminal() bool {
	return e.Stage == StageEnd || (e.Stage == StageError && e.Status == StatusError)
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Filter selects the events a subscriber receives. A nil Filter takes every
// event.
type Filter func(Event) bool

// ForOwner matches one owner's events, optionally narrowed to one account.
func ForOwner(ownerID, accountID uint64) Filter {
	return func(e Event) bool {
		return e.OwnerID == ownerID && (accountID == 0 || e.AccountID == accountID)
	}
}

type subscriber struct {
	ch    chan Event
	match Filter
}

// Hub is a multi-subscriber emitter. Emit never blocks: a subscriber whose
// buffer is full misses the event. Filtering happens before buffering, so
// one owner's traffic never fills another owner's buffer.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]subscriber
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]subscriber)}
}

func (h *Hub) Subscribe(buffer int, match Filter) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{ch: ch, match: match}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (h *Hub) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.match != nil && !sub.match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
