// Package session owns sessions: their mode, history, turn lifecycle, and
// the hand-off of queued turns to the turn engine.
//
// Every mutating operation on a single session is linearized through that
// session's lock; operations on distinct sessions proceed in parallel. Each
// session runs at most one lazily started worker goroutine which exits as
// soon as the turn queue drains.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeworks/agentcore/domain"
	"github.com/cascadeworks/agentcore/hub"
	"github.com/cascadeworks/agentcore/workspace"
)

// Persistence is the optional durability hook. The store calls AppendHistory
// under the same per-session critical section that appends to the event log,
// so durable history and the event stream agree.
type Persistence interface {
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
	AppendHistory(ctx context.Context, id string, entries []domain.ConversationEntry) error
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

// Sink is the engine's serialized access to one session while its turn runs.
type Sink interface {
	// Emit appends an event to the session's log and returns it with its
	// assigned sequence number.
	Emit(kind domain.EventKind, payload any) domain.StreamEvent
	// AppendEntry finalizes a history entry, stamped with the current
	// event-log position, and forwards it to the persistence hook.
	AppendEntry(e domain.ConversationEntry)
	// Workspace returns the session's workspace override, or nil to use
	// the engine's default.
	Workspace() workspace.Workspace
	// ValidationEnabled reports whether incremental validation was enabled
	// at session creation.
	ValidationEnabled() bool
}

// Runner executes one turn to a terminal state. Implemented by the engine.
type Runner interface {
	Run(ctx context.Context, sess *domain.Session, turn *domain.Turn, sink Sink)
}

// CreateConfig enumerates the per-session settings.
type CreateConfig struct {
	StartMode        string // default ACT
	QualityLevel     string // default medium
	EnableValidation *bool  // default true
	// Workspace optionally overrides the engine's default workspace.
	Workspace workspace.Workspace
}

// Options tunes the store.
type Options struct {
	// TurnBudget bounds one turn's wall clock.
	TurnBudget time.Duration
	// QueueDepth bounds queued turns per session. The default of 1
	// enforces one-in-flight.
	QueueDepth int
	// SessionTTL expires sessions idle for this long. Zero disables expiry.
	SessionTTL time.Duration
	// CancelOnEmpty cancels an in-flight turn when the last subscriber
	// disconnects. Off by default.
	CancelOnEmpty bool
}

// DefaultOptions returns the stock store settings.
func DefaultOptions() Options {
	return Options{
		TurnBudget: 180 * time.Second,
		QueueDepth: 1,
		SessionTTL: 60 * time.Minute,
	}
}

type queuedTurn struct {
	turnID    string
	cancelled bool
}

type sessionState struct {
	mu   sync.Mutex
	sess *domain.Session

	queue         []queuedTurn
	workerActive  bool
	cancelCurrent context.CancelFunc

	// nonces maps a client-supplied submission nonce to the turn it
	// created, making resubmission after a reconnect at-most-once.
	nonces map[string]string

	validation bool
	workspace  workspace.Workspace
}

// Store creates sessions and drives their turns. Safe for concurrent use.
type Store struct {
	opts    Options
	hub     *hub.Hub
	runner  Runner
	persist Persistence
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a store. persist may be nil for in-memory-only operation.
func New(opts Options, h *hub.Hub, runner Runner, persist Persistence, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1
	}
	if opts.TurnBudget <= 0 {
		opts.TurnBudget = DefaultOptions().TurnBudget
	}
	st := &Store{
		opts:     opts,
		hub:      h,
		runner:   runner,
		persist:  persist,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*sessionState),
		done:     make(chan struct{}),
	}
	if opts.SessionTTL > 0 {
		st.wg.Add(1)
		go st.reapLoop()
	}
	return st
}

// Close stops background work and waits for in-flight workers to finish.
func (st *Store) Close() {
	st.stopOnce.Do(func() { close(st.done) })
	st.wg.Wait()
}

// CreateSession allocates a session. Unknown enum values in cfg fail with
// InvalidConfig.
func (st *Store) CreateSession(ctx context.Context, cfg CreateConfig) (string, error) {
	mode := domain.ModeAct
	if cfg.StartMode != "" {
		m, err := domain.ParseMode(cfg.StartMode)
		if err != nil {
			return "", err
		}
		mode = m
	}
	quality := domain.QualityMedium
	if cfg.QualityLevel != "" {
		q, err := domain.ParseQuality(cfg.QualityLevel)
		if err != nil {
			return "", err
		}
		quality = q
	}
	validation := true
	if cfg.EnableValidation != nil {
		validation = *cfg.EnableValidation
	}

	now := st.now()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Mode:      mode,
		Quality:   quality,
	}
	state := &sessionState{
		sess:       sess,
		nonces:     make(map[string]string),
		validation: validation,
		workspace:  cfg.Workspace,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = state
	st.mu.Unlock()

	st.save(ctx, sess)
	st.logger.Info("session created",
		"session_id", sess.ID, "mode", mode, "quality", quality)
	return sess.ID, nil
}

// SubmitUserMessage appends the user entry, allocates a queued turn, emits
// TurnStarted, and schedules the turn. A repeated nonce returns the original
// turn id without creating a new turn.
func (st *Store) SubmitUserMessage(ctx context.Context, sessionID, content, nonce string) (string, error) {
	state, err := st.state(sessionID)
	if err != nil {
		return "", err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if nonce != "" {
		if turnID, ok := state.nonces[nonce]; ok {
			return turnID, nil
		}
	}
	if state.sess.Current != nil && !state.sess.Current.State.Terminal() {
		return "", domain.Errorf(domain.TurnBusy,
			"session %s already has turn %s in flight", sessionID, state.sess.Current.ID)
	}
	if len(state.queue) >= st.opts.QueueDepth {
		return "", domain.Errorf(domain.TurnBusy,
			"session %s turn queue is full", sessionID)
	}

	now := st.now()
	state.sess.TurnCounter++
	turn := &domain.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Number:    state.sess.TurnCounter,
		UserInput: content,
		State:     domain.TurnQueued,
		StartedAt: now,
	}
	state.sess.Current = turn
	state.sess.UpdatedAt = now
	if nonce != "" {
		state.nonces[nonce] = turn.ID
	}

	st.appendEntryLocked(state, domain.ConversationEntry{
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: now,
	})
	st.emitLocked(state, domain.EventTurnStarted, domain.TurnStartedPayload{
		TurnID:    turn.ID,
		Number:    turn.Number,
		UserInput: content,
	})
	st.save(ctx, state.sess)

	state.queue = append(state.queue, queuedTurn{turnID: turn.ID})
	if !state.workerActive {
		state.workerActive = true
		st.wg.Add(1)
		go st.worker(state)
	}
	return turn.ID, nil
}

// SwitchMode changes the session mode. Fails with ModeLocked while a turn is
// non-terminal.
func (st *Store) SwitchMode(ctx context.Context, sessionID, mode string) error {
	m, err := domain.ParseMode(mode)
	if err != nil {
		return err
	}
	state, err := st.state(sessionID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.sess.Current != nil && !state.sess.Current.State.Terminal() {
		return domain.Errorf(domain.ModeLocked,
			"session %s has turn %s in flight", sessionID, state.sess.Current.ID)
	}
	if state.sess.Mode == m {
		return nil
	}
	state.sess.Mode = m
	state.sess.UpdatedAt = st.now()
	st.emitLocked(state, domain.EventModeChanged, domain.ModeChangedPayload{Mode: m})
	st.save(ctx, state.sess)
	return nil
}

// CancelTurn flags the current turn for cancellation. The engine observes it
// at its next cooperative yield point.
func (st *Store) CancelTurn(sessionID string) error {
	state, err := st.state(sessionID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	for i := range state.queue {
		state.queue[i].cancelled = true
	}
	if state.cancelCurrent != nil {
		state.cancelCurrent()
	}
	return nil
}

// GetHistory returns the session history, optionally restricted to entries
// finalized at or after sinceSeq.
func (st *Store) GetHistory(sessionID string, sinceSeq *uint64) ([]domain.ConversationEntry, error) {
	state, err := st.state(sessionID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if sinceSeq != nil {
		return state.sess.HistorySince(*sinceSeq), nil
	}
	return state.sess.HistorySince(0), nil
}

// ListSessions returns snapshots of every known session, most recently
// updated first. With persistence configured, sessions from prior processes
// are included.
func (st *Store) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	st.mu.Lock()
	states := make([]*sessionState, 0, len(st.sessions))
	for _, state := range st.sessions {
		states = append(states, state)
	}
	st.mu.Unlock()

	out := make([]*domain.Session, 0, len(states))
	seen := make(map[string]bool, len(states))
	for _, state := range states {
		state.mu.Lock()
		out = append(out, state.sess.Clone())
		seen[state.sess.ID] = true
		state.mu.Unlock()
	}

	if st.persist != nil {
		stored, err := st.persist.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		for _, sess := range stored {
			if !seen[sess.ID] {
				out = append(out, sess)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// GetSession returns a snapshot of the session.
func (st *Store) GetSession(sessionID string) (*domain.Session, error) {
	state, err := st.state(sessionID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.sess.Clone(), nil
}

// Subscribe attaches a subscriber to the session's event stream.
func (st *Store) Subscribe(sessionID string, fromSeq *uint64) (*hub.Subscription, error) {
	if _, err := st.state(sessionID); err != nil {
		return nil, err
	}
	return st.hub.Subscribe(sessionID, fromSeq), nil
}

// Unsubscribe detaches a subscriber. With CancelOnEmpty set, the in-flight
// turn is cancelled once the last subscriber is gone.
func (st *Store) Unsubscribe(sub *hub.Subscription) {
	st.hub.Unsubscribe(sub)
	if st.opts.CancelOnEmpty && st.hub.SubscriberCount(sub.SessionID) == 0 {
		if err := st.CancelTurn(sub.SessionID); err == nil {
			st.logger.Info("cancelled turn on empty session",
				"session_id", sub.SessionID)
		}
	}
}

// worker drains the session's turn queue, then exits.
func (st *Store) worker(state *sessionState) {
	defer st.wg.Done()
	for {
		state.mu.Lock()
		if len(state.queue) == 0 {
			state.workerActive = false
			state.mu.Unlock()
			return
		}
		qt := state.queue[0]
		state.queue = state.queue[1:]

		turn := state.sess.Current
		if turn == nil || turn.ID != qt.turnID {
			state.mu.Unlock()
			continue
		}
		if qt.cancelled {
			st.finalizeLocked(state, turn, domain.TurnCancelled,
				domain.Cancelled, "turn cancelled before start")
			state.mu.Unlock()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), st.opts.TurnBudget)
		state.cancelCurrent = cancel
		turn.State = domain.TurnInProgress
		sessSnap := state.sess.Clone()
		// The runner works on a private copy of the turn. Store readers only
		// ever see the shared one, which stays InProgress until the terminal
		// event publishes the outcome through the sink, inside the lock.
		run := turn.Clone()
		state.mu.Unlock()

		st.runner.Run(ctx, sessSnap, &run, &turnSink{store: st, state: state, run: &run})
		cancel()

		state.mu.Lock()
		state.cancelCurrent = nil
		if !run.State.Terminal() {
			// The runner must leave the turn terminal; treat anything
			// else as an internal failure.
			st.finalizeLocked(state, &run, domain.TurnFailed,
				domain.LLMPermanent, "turn ended without a terminal state")
		} else {
			// Terminal state reached but no terminal event passed through
			// the sink; retire the turn here.
			st.publishOutcomeLocked(state, &run)
		}
		state.mu.Unlock()
	}
}

// finalizeLocked force-terminates a turn and emits its failure event.
// Caller holds state.mu.
func (st *Store) finalizeLocked(state *sessionState, turn *domain.Turn, ts domain.TurnState, kind domain.ErrorKind, msg string) {
	turn.State = ts
	turn.FailureKind = kind
	turn.FailureMessage = msg
	turn.FinishedAt = st.now()
	if cur := state.sess.Current; cur != nil && cur.ID == turn.ID {
		state.sess.Current = nil
	}
	state.sess.UpdatedAt = turn.FinishedAt
	st.emitLocked(state, domain.EventTurnFailed, domain.TurnFailedPayload{
		TurnID:  turn.ID,
		Kind:    kind,
		Message: msg,
	})
	st.appendEntryLocked(state, domain.ConversationEntry{
		Role:      domain.RoleSystemNote,
		Content:   "turn failed: " + msg,
		Timestamp: st.now(),
	})
	st.save(context.Background(), state.sess)
}

// publishOutcomeLocked retires the session's current turn once a run has
// reached a terminal state. It runs in the same critical section as the
// terminal event, so a submission that observes TurnCompleted or TurnFailed
// always finds the session idle. Caller holds state.mu.
func (st *Store) publishOutcomeLocked(state *sessionState, run *domain.Turn) {
	cur := state.sess.Current
	if cur == nil || cur.ID != run.ID {
		return
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = st.now()
	}
	state.sess.Current = nil
	state.sess.UpdatedAt = run.FinishedAt
	st.save(context.Background(), state.sess)
}

// emitLocked appends an event and records its seq on the session. Caller
// holds state.mu.
func (st *Store) emitLocked(state *sessionState, kind domain.EventKind, payload any) domain.StreamEvent {
	ev := st.hub.Append(state.sess.ID, kind, domain.MarshalPayload(payload))
	state.sess.LastSeq = ev.Seq
	return ev
}

// appendEntryLocked finalizes a history entry at the current event-log
// position and forwards it to the persistence hook. Caller holds state.mu.
func (st *Store) appendEntryLocked(state *sessionState, e domain.ConversationEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = st.now()
	}
	e.Seq = st.hub.StampNext(state.sess.ID)
	state.sess.History = append(state.sess.History, e)
	if st.persist != nil {
		if err := st.persist.AppendHistory(context.Background(), state.sess.ID, []domain.ConversationEntry{e}); err != nil {
			st.logger.Error("append history failed",
				"session_id", state.sess.ID, "error", err)
		}
	}
}

func (st *Store) save(ctx context.Context, sess *domain.Session) {
	if st.persist == nil {
		return
	}
	if err := st.persist.SaveSession(ctx, sess); err != nil {
		st.logger.Error("save session failed", "session_id", sess.ID, "error", err)
	}
}

func (st *Store) state(sessionID string) (*sessionState, error) {
	st.mu.Lock()
	state, ok := st.sessions[sessionID]
	st.mu.Unlock()
	if ok {
		return state, nil
	}
	// Fall back to the durable store for sessions from a prior process.
	if st.persist != nil {
		sess, err := st.persist.LoadSession(context.Background(), sessionID)
		if err == nil && sess != nil {
			state = &sessionState{
				sess:       sess,
				nonces:     make(map[string]string),
				validation: true,
			}
			st.mu.Lock()
			if existing, ok := st.sessions[sessionID]; ok {
				state = existing
			} else {
				st.sessions[sessionID] = state
			}
			st.mu.Unlock()
			return state, nil
		}
	}
	return nil, domain.Errorf(domain.UnknownSession, "unknown session %s", sessionID)
}

// reapLoop expires sessions idle beyond the TTL.
func (st *Store) reapLoop() {
	defer st.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.reapExpired()
		}
	}
}

func (st *Store) reapExpired() {
	cutoff := st.now().Add(-st.opts.SessionTTL)
	st.mu.Lock()
	var expired []*sessionState
	for id, state := range st.sessions {
		state.mu.Lock()
		idle := state.sess.UpdatedAt.Before(cutoff) &&
			(state.sess.Current == nil || state.sess.Current.State.Terminal()) &&
			len(state.queue) == 0
		state.mu.Unlock()
		if idle {
			expired = append(expired, state)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, state := range expired {
		st.hub.Forget(state.sess.ID)
		st.logger.Info("session expired", "session_id", state.sess.ID)
	}
}

// turnSink implements Sink for one running turn, taking the session lock per
// call so event-log appends and history appends stay in one critical section.
// When the runner emits the turn's terminal event, the sink retires the turn
// inside that same critical section.
type turnSink struct {
	store *Store
	state *sessionState
	run   *domain.Turn
}

func (s *turnSink) Emit(kind domain.EventKind, payload any) domain.StreamEvent {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	ev := s.store.emitLocked(s.state, kind, payload)
	if kind == domain.EventTurnCompleted || kind == domain.EventTurnFailed {
		s.store.publishOutcomeLocked(s.state, s.run)
	}
	return ev
}

func (s *turnSink) AppendEntry(e domain.ConversationEntry) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.store.appendEntryLocked(s.state, e)
}

func (s *turnSink) Workspace() workspace.Workspace { return s.state.workspace }

func (s *turnSink) ValidationEnabled() bool { return s.state.validation }
