// Package hub multiplexes per-session event streams to subscribers.
//
// Each session owns an append-only event log with gapless, monotonically
// increasing sequence numbers assigned under a short per-session critical
// section. Subscribers get an independent bounded queue; a subscriber that
// cannot keep up is dropped rather than allowed to block the producer.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeworks/agentcore/domain"
)

// Config controls retention, buffering, and liveness behaviour.
type Config struct {
	// RetentionWindow bounds how long appended events stay replayable.
	RetentionWindow time.Duration
	// RetentionEvents bounds how many events per session stay replayable.
	// The smaller of the two bounds wins.
	RetentionEvents int
	// SubscriberBuffer is the per-subscription queue depth.
	SubscriberBuffer int
	// HeartbeatEvery is the max quiet period before a Heartbeat event is
	// appended, provided the session has at least one subscriber.
	HeartbeatEvery time.Duration
	// SubscriberIdle drops subscriptions that have not acknowledged
	// anything for this long. Zero disables idle reaping.
	SubscriberIdle time.Duration
}

// DefaultConfig returns the stock hub settings.
func DefaultConfig() Config {
	return Config{
		RetentionWindow:  15 * time.Minute,
		RetentionEvents:  1000,
		SubscriberBuffer: 256,
		HeartbeatEvery:   20 * time.Second,
		SubscriberIdle:   5 * time.Minute,
	}
}

// Subscription is a handle to one subscriber's view of a session stream.
// It is created by Subscribe and owned by the hub until Unsubscribe or drop.
type Subscription struct {
	ID        string
	SessionID string

	out      chan domain.StreamEvent
	live     chan domain.StreamEvent
	quit     chan struct{}
	quitOnce sync.Once
	errVal   atomic.Value // error

	lastAck    uint64
	lastActive time.Time
}

// Events returns the delivery channel. It is closed when the subscription
// ends; check Err afterwards to distinguish an orderly unsubscribe from a
// drop.
func (s *Subscription) Events() <-chan domain.StreamEvent { return s.out }

// Err reports why the subscription ended, or nil for an orderly unsubscribe.
func (s *Subscription) Err() error {
	if v := s.errVal.Load(); v != nil {
		return v.(error)
	}
	return nil
}

type sessionLog struct {
	mu         sync.Mutex
	events     []domain.StreamEvent
	nextSeq    uint64
	lastAppend time.Time
	subs       map[string]*Subscription
}

// floor is the lowest retained sequence number; with nothing retained it
// equals the next sequence to be assigned.
func (l *sessionLog) floor() uint64 {
	if len(l.events) > 0 {
		return l.events[0].Seq
	}
	return l.nextSeq
}

// Hub fans out per-session event streams. Safe for concurrent use. The hub
// lock only guards the session table; each session's log has its own short
// critical section, so appends on distinct sessions proceed in parallel.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionLog

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a hub and starts its heartbeat/reaper loop. Call Close when
// done.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionEvents <= 0 {
		cfg.RetentionEvents = DefaultConfig().RetentionEvents
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultConfig().RetentionWindow
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*sessionLog),
		done:     make(chan struct{}),
	}
	if cfg.HeartbeatEvery > 0 {
		h.wg.Add(1)
		go h.tickLoop()
	}
	return h
}

// Close stops background work and drops every subscription.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.done) })
	h.wg.Wait()

	for _, l := range h.snapshot() {
		l.mu.Lock()
		for id, sub := range l.subs {
			delete(l.subs, id)
			sub.finish(nil)
		}
		l.mu.Unlock()
	}
}

// Append assigns the next sequence number for the session, records the
// event, and fans it out. It never blocks on a slow subscriber.
func (h *Hub) Append(sessionID string, kind domain.EventKind, payload json.RawMessage) domain.StreamEvent {
	l := h.session(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return h.appendLocked(l, sessionID, kind, payload)
}

// appendLocked records one event and fans it out. Caller holds l.mu.
func (h *Hub) appendLocked(l *sessionLog, sessionID string, kind domain.EventKind, payload json.RawMessage) domain.StreamEvent {
	ev := domain.StreamEvent{
		SessionID: sessionID,
		Seq:       l.nextSeq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: h.now(),
	}
	l.nextSeq++
	l.lastAppend = ev.Timestamp
	l.events = append(l.events, ev)
	h.prune(l)

	for id, sub := range l.subs {
		select {
		case sub.live <- ev:
		default:
			delete(l.subs, id)
			sub.finish(domain.Errorf(domain.SubscriberLagged,
				"subscriber %s dropped at seq %d", id, ev.Seq))
			h.logger.Warn("subscriber lagged, dropping",
				"session_id", sessionID, "subscriber_id", id, "seq", ev.Seq)
		}
	}
	return ev
}

// NextSeq reports the sequence number the next appended event will carry.
func (h *Hub) NextSeq(sessionID string) uint64 {
	l, ok := h.lookup(sessionID)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// StampNext reports the sequence number the next appended event will carry
// and counts as log activity, so a concurrent heartbeat cannot claim that
// position: the heartbeat quiet check and the returned stamp share the
// session's critical section.
func (h *Hub) StampNext(sessionID string) uint64 {
	l := h.session(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAppend = h.now()
	return l.nextSeq
}

// Subscribe attaches a subscriber to a session's stream. When fromSeq is
// non-nil and still retained, events with seq >= fromSeq are replayed in
// order before live delivery. A fromSeq below the retained floor yields a
// single Resync sentinel followed by live events only.
func (h *Hub) Subscribe(sessionID string, fromSeq *uint64) *Subscription {
	l := h.session(sessionID)
	l.mu.Lock()
	sub := &Subscription{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		out:        make(chan domain.StreamEvent),
		live:       make(chan domain.StreamEvent, h.cfg.SubscriberBuffer),
		quit:       make(chan struct{}),
		lastActive: h.now(),
	}

	var replay []domain.StreamEvent
	if fromSeq != nil {
		if floor := l.floor(); *fromSeq < floor {
			replay = []domain.StreamEvent{{
				SessionID: sessionID,
				Seq:       floor,
				Kind:      domain.EventResync,
				Payload:   domain.MarshalPayload(map[string]uint64{"floor": floor}),
				Timestamp: h.now(),
			}}
		} else {
			for _, ev := range l.events {
				if ev.Seq >= *fromSeq {
					replay = append(replay, ev)
				}
			}
		}
	}
	l.subs[sub.ID] = sub
	l.mu.Unlock()

	h.wg.Add(1)
	go h.pump(sub, replay)
	return sub
}

// Acknowledge advances the subscriber's low-water mark and refreshes its
// idle timer.
func (h *Hub) Acknowledge(sub *Subscription, seq uint64) {
	l, ok := h.lookup(sub.SessionID)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.subs[sub.ID]; ok {
		if seq > s.lastAck {
			s.lastAck = seq
		}
		s.lastActive = h.now()
	}
}

// Unsubscribe detaches the subscriber and closes its event channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	l, ok := h.lookup(sub.SessionID)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[sub.ID]; ok {
		delete(l.subs, sub.ID)
		sub.finish(nil)
	}
}

// SubscriberCount reports how many live subscriptions a session has.
func (h *Hub) SubscriberCount(sessionID string) int {
	l, ok := h.lookup(sessionID)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Forget drops a session's log and subscriptions, e.g. on session expiry.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	l, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, sub := range l.subs {
		delete(l.subs, id)
		sub.finish(nil)
	}
}

// pump forwards replayed then live events to the subscriber's out channel.
// Replay is delivered at consumer pace; only the live queue is bounded.
func (h *Hub) pump(sub *Subscription, replay []domain.StreamEvent) {
	defer h.wg.Done()
	defer close(sub.out)

	for _, ev := range replay {
		select {
		case sub.out <- ev:
		case <-sub.quit:
			return
		case <-h.done:
			return
		}
	}
	for {
		select {
		case ev := <-sub.live:
			select {
			case sub.out <- ev:
			case <-sub.quit:
				return
			case <-h.done:
				return
			}
		case <-sub.quit:
			return
		case <-h.done:
			return
		}
	}
}

func (sub *Subscription) finish(err error) {
	sub.quitOnce.Do(func() {
		if err != nil {
			sub.errVal.Store(err)
		}
		close(sub.quit)
	})
}

// session returns the log for sessionID, creating it on first use.
func (h *Hub) session(sessionID string) *sessionLog {
	if l, ok := h.lookup(sessionID); ok {
		return l
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.sessions[sessionID]
	if !ok {
		l = &sessionLog{subs: make(map[string]*Subscription)}
		h.sessions[sessionID] = l
	}
	return l
}

func (h *Hub) lookup(sessionID string) (*sessionLog, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.sessions[sessionID]
	return l, ok
}

// snapshot returns the current session logs keyed by id.
func (h *Hub) snapshot() map[string]*sessionLog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	logs := make(map[string]*sessionLog, len(h.sessions))
	for id, l := range h.sessions {
		logs[id] = l
	}
	return logs
}

// prune enforces both retention bounds. Caller holds l.mu.
func (h *Hub) prune(l *sessionLog) {
	if n := len(l.events) - h.cfg.RetentionEvents; n > 0 {
		l.events = append(l.events[:0:0], l.events[n:]...)
	}
	cutoff := h.now().Add(-h.cfg.RetentionWindow)
	i := 0
	for i < len(l.events) && l.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0:0], l.events[i:]...)
	}
}

// tickLoop appends heartbeats to quiet sessions that still have subscribers
// and reaps idle subscriptions.
func (h *Hub) tickLoop() {
	defer h.wg.Done()
	interval := h.cfg.HeartbeatEvery / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.heartbeatQuiet()
			h.reapIdle()
		}
	}
}

// heartbeatQuiet appends a Heartbeat to each session with subscribers and no
// appends for a full quiet period. The quiet check and the append share the
// session's critical section, so an append or stamp racing the tick
// suppresses the heartbeat.
func (h *Hub) heartbeatQuiet() {
	now := h.now()
	for id, l := range h.snapshot() {
		l.mu.Lock()
		if len(l.subs) > 0 && now.Sub(l.lastAppend) >= h.cfg.HeartbeatEvery {
			h.appendLocked(l, id, domain.EventHeartbeat, nil)
		}
		l.mu.Unlock()
	}
}

func (h *Hub) reapIdle() {
	if h.cfg.SubscriberIdle <= 0 {
		return
	}
	now := h.now()
	for sid, l := range h.snapshot() {
		l.mu.Lock()
		for id, sub := range l.subs {
			if now.Sub(sub.lastActive) > h.cfg.SubscriberIdle {
				delete(l.subs, id)
				sub.finish(nil)
				h.logger.Debug("reaped idle subscriber",
					"session_id", sid, "subscriber_id", id)
			}
		}
		l.mu.Unlock()
	}
}
