package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/decred/slog"
)

// Filter selects the envelopes a subscription receives. Public events match
// on RoundID or GameID; private events match only on PlayerID.
type Filter struct {
	RoundID  string
	GameID   string
	PlayerID string
}

func (f Filter) matches(env Envelope) bool {
	if env.Event == nil {
		return false
	}
	if env.Event.Private() {
		return f.PlayerID != "" && f.PlayerID == env.PlayerID
	}
	if f.RoundID != "" && f.RoundID == env.RoundID {
		return true
	}
	return f.GameID != "" && f.GameID == env.GameID
}

// Subscription is a bounded queue of envelopes for one listener. When the
// queue is full new envelopes are dropped for this listener only.
type Subscription struct {
	id      uint64
	filter  Filter
	ch      chan Envelope
	hub     *Hub
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the delivery channel. It is closed when the subscription is.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Dropped returns how many envelopes were discarded because the listener
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close removes the subscription from its hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans envelopes out to subscriptions.
type Hub struct {
	log    slog.Logger
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	bufLen int
}

// NewHub creates a hub whose subscriptions buffer bufLen envelopes.
func NewHub(log slog.Logger, bufLen int) *Hub {
	if log == nil {
		log = slog.Disabled
	}
	if bufLen <= 0 {
		bufLen = 64
	}
	return &Hub{log: log, subs: make(map[uint64]*Subscription), bufLen: bufLen}
}

// Subscribe registers a listener for envelopes matching f.
func (h *Hub) Subscribe(f Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		filter: f,
		ch:     make(chan Envelope, h.bufLen),
		hub:    h,
	}
	h.subs[s.id] = s
	h.log.Debugf("Subscription %d added (round=%q game=%q player=%q)",
		s.id, f.RoundID, f.GameID, f.PlayerID)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	h.log.Debugf("Subscription %d removed (%d dropped)", s.id, s.Dropped())
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Deliver hands env to every matching subscription without blocking.
func (h *Hub) Deliver(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.filter.matches(env) {
			continue
		}
		select {
		case s.ch <- env:
		default:
			n := s.dropped.Add(1)
			h.log.Debugf("Subscription %d full, dropped %s seq=%d (total %d)",
				s.id, env.Kind(), env.Seq, n)
		}
	}
}
