package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/ingestd/internal/observe"
	"golang.org/x/sync/errgroup"
)

// scratchKey is the untyped map key for the session scratch map: a
// (ResourceKey.Name, SessionId) pair.
type scratchKey struct {
	key     resourceKey
	session SessionId
}

// waiter is a broadcast-once wakeup: closing ch wakes every goroutine
// blocked in <-ch, and is safe to do at most once (guarded by closed).
type waiter struct {
	ch     chan struct{}
	closed bool
}

func newWaiter() *waiter { return &waiter{ch: make(chan struct{})} }

func (w *waiter) fire() {
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// sessionData holds the immutable facts about a session, fixed at
// creation time.
type sessionData struct {
	project   ProjectId
	user      UserId
	createdAt time.Time
}

// sessionScope is the per-session structured concurrency primitive: an
// errgroup.Group bound to a cancellable context. Calling cancel then
// Wait tears the scope down and waits for every task it spawned.
type sessionScope struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Manager owns all per-session state: the scratch map, the active-session
// set, per-session task scopes, and the audio fan-out consumer list. It is
// a process-wide singleton, created once at process start.
type Manager struct {
	mu sync.Mutex

	store     map[scratchKey]any
	storeKeys map[SessionId][]scratchKey
	waiters   map[scratchKey]*waiter

	sessions map[SessionId]sessionData
	active   map[SessionId]bool
	scopes   map[SessionId]*sessionScope
	contexts map[SessionId]*SessionContext

	activeAudio    map[SessionId]bool
	audioDoneEvent map[SessionId]*waiter

	consumers []ConsumerPair
	settings  Settings
	storage   Storage
	pool      *WorkerPool
}

// Settings carries the subset of configuration the core consults
// directly; everything else (OIDC, CORS) lives above this package.
type Settings struct {
	TargetSampleRate int
	RecordingsDir    string
	BufferFrames     int
	WordThreshold    int
	WindowSeconds    int
}

// NewManager constructs a Manager. consumers is the static, ordered list
// of audio consumer pairs dispatched on every ingested chunk; pool is
// the AI worker pool that coalescer flushes submit into.
func NewManager(consumers []ConsumerPair, settings Settings, storage Storage, pool *WorkerPool) *Manager {
	return &Manager{
		store:          make(map[scratchKey]any),
		storeKeys:      make(map[SessionId][]scratchKey),
		waiters:        make(map[scratchKey]*waiter),
		sessions:       make(map[SessionId]sessionData),
		active:         make(map[SessionId]bool),
		scopes:         make(map[SessionId]*sessionScope),
		contexts:       make(map[SessionId]*SessionContext),
		activeAudio:    make(map[SessionId]bool),
		audioDoneEvent: make(map[SessionId]*waiter),
		consumers:      consumers,
		settings:       settings,
		storage:        storage,
		pool:           pool,
	}
}

// SessionContext is a thin, immutable handle bound to one session,
// delegating to Manager.
type SessionContext struct {
	manager   *Manager
	SessionId SessionId
	ctx       context.Context

	coalescer *TextCoalescer
}

// Context returns the session-scoped context. It is cancelled on
// Teardown and observes parent cancellation (process shutdown).
func (c *SessionContext) Context() context.Context { return c.ctx }

func (c *SessionContext) IsActive() bool {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	return c.manager.active[c.SessionId]
}

// NewSession allocates a fresh session: registers its session data,
// opens a session-scoped task group derived from parent, and starts the
// session's TextCoalescer consumer loop within that scope.
func (m *Manager) NewSession(parent context.Context, user UserId, project ProjectId) *SessionContext {
	sessionID := NewSessionId()
	sessCtx, cancel := context.WithCancel(parent)
	group, egCtx := errgroup.WithContext(sessCtx)

	m.mu.Lock()
	m.sessions[sessionID] = sessionData{project: project, user: user, createdAt: time.Now()}
	m.scopes[sessionID] = &sessionScope{ctx: egCtx, cancel: cancel, group: group}
	m.active[sessionID] = true
	m.mu.Unlock()

	sc := &SessionContext{manager: m, SessionId: sessionID, ctx: egCtx}
	sc.coalescer = NewTextCoalescer(m.settings.WordThreshold, time.Duration(m.settings.WindowSeconds)*time.Second, func(tid TranscriptId) error {
		return m.pool.Submit(AIJob{Session: sessionID, Project: project})
	})
	group.Go(func() error {
		sc.coalescer.Run(egCtx)
		return nil
	})

	m.mu.Lock()
	m.contexts[sessionID] = sc
	m.mu.Unlock()

	observe.DefaultMetrics().ActiveSessions.Add(parent, 1)

	return sc
}

func (m *Manager) sessionData(id SessionId) (sessionData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.sessions[id]
	return d, ok
}

// lookupSessionContext returns the live SessionContext for session, used
// by the AI worker pool to reach a session's outbound socket without
// threading it through AIJob.
func (m *Manager) lookupSessionContext(id SessionId) (*SessionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[id] {
		return nil, false
	}
	sc, ok := m.contexts[id]
	return sc, ok
}

// ProjectOf returns the project a session belongs to.
func (c *SessionContext) ProjectOf() ProjectId {
	d, _ := c.manager.sessionData(c.SessionId)
	return d.project
}

// UserOf returns the user who owns a session.
func (c *SessionContext) UserOf() UserId {
	d, _ := c.manager.sessionData(c.SessionId)
	return d.user
}

// register binds value to (key, session), panicking if the session is
// not active or the key is already bound — both are programmer errors.
func (m *Manager) register(session SessionId, key resourceKey, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active[session] {
		panic(fmt.Sprintf("ingest: session %s is not active", session))
	}
	k := scratchKey{key: key, session: session}
	if _, exists := m.store[k]; exists {
		panic(fmt.Sprintf("ingest: %s already registered for session %s", key.name, session))
	}

	m.store[k] = value
	m.storeKeys[session] = append(m.storeKeys[session], k)

	if w, ok := m.waiters[k]; ok {
		w.fire()
	}
}

// get returns the value bound to (key, session), or false if absent.
// Panics if the session is not active.
func (m *Manager) get(session SessionId, key resourceKey) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active[session] {
		panic(fmt.Sprintf("ingest: session %s is not active", session))
	}
	v, ok := m.store[scratchKey{key: key, session: session}]
	return v, ok
}

// getOrWait blocks until (key, session) is bound or the session is torn
// down, in which case it returns an error without hanging.
func (m *Manager) getOrWait(ctx context.Context, session SessionId, key resourceKey) (any, error) {
	m.mu.Lock()
	if !m.active[session] {
		m.mu.Unlock()
		panic(fmt.Sprintf("ingest: session %s is not active", session))
	}
	k := scratchKey{key: key, session: session}
	if v, ok := m.store[k]; ok {
		m.mu.Unlock()
		return v, nil
	}
	w, ok := m.waiters[k]
	if !ok {
		w = newWaiter()
		m.waiters[k] = w
	}
	m.mu.Unlock()

	select {
	case <-w.ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store[k]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("ingest: session %s torn down while waiting for %s", session, key.name)
}

// setActiveAudioSession marks session as currently streaming audio,
// gating Teardown until the corresponding FinalizeAudio completes.
func (m *Manager) setActiveAudioSession(session SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeAudio[session] = true
}

func (m *Manager) clearActiveAudioSession(session SessionId) {
	m.mu.Lock()
	delete(m.activeAudio, session)
	w, ok := m.audioDoneEvent[session]
	m.mu.Unlock()
	if ok {
		w.fire()
	}
}

// IngestAudio dispatches chunk to every registered consumer in
// registration order, synchronously, so that the next chunk is never
// delivered to any consumer until every consumer has finished the
// current one. Consumer errors are logged and isolated to that
// consumer; they never abort the
// fan-out for the remaining consumers or subsequent chunks.
func (m *Manager) IngestAudio(sc *SessionContext, chunk AudioChunk) {
	for _, c := range m.consumers {
		if err := c.OnChunk(sc, chunk); err != nil {
			slog.Error("audio consumer failed", "session_id", sc.SessionId, "consumer", c.Name, "error", err)
		}
	}
}

// FinalizeAudio runs every consumer's OnFinalize in registration order
// and then clears the session's active-audio flag, releasing any
// Teardown call blocked waiting for it. Called by the audio pipeline
// when the underlying track ends.
func (m *Manager) FinalizeAudio(sc *SessionContext) {
	for _, c := range m.consumers {
		if err := c.OnFinalize(sc); err != nil {
			slog.Error("audio consumer finalize failed", "session_id", sc.SessionId, "consumer", c.Name, "error", err)
		}
	}
	m.clearActiveAudioSession(sc.SessionId)
}

// Teardown waits for any in-flight audio finalization to complete, then
// atomically removes every scratch-map entry for the session (waking
// waiters with failure), removes the session from the active set, and
// cancels + awaits the session's task scope. Waits outside the lock,
// mutates under the lock, and awaits the task group outside the lock.
func (m *Manager) Teardown(session SessionId) {
	m.mu.Lock()
	audioActive := m.activeAudio[session]
	var doneEvent *waiter
	if audioActive {
		doneEvent = m.audioDoneEvent[session]
		if doneEvent == nil {
			doneEvent = newWaiter()
			m.audioDoneEvent[session] = doneEvent
		}
	}
	m.mu.Unlock()

	if doneEvent != nil {
		<-doneEvent.ch
	}

	m.mu.Lock()
	for _, k := range m.storeKeys[session] {
		delete(m.store, k)
		if w, ok := m.waiters[k]; ok {
			w.fire()
			delete(m.waiters, k)
		}
	}
	delete(m.storeKeys, session)
	delete(m.sessions, session)
	delete(m.active, session)
	delete(m.activeAudio, session)
	delete(m.audioDoneEvent, session)
	delete(m.contexts, session)

	scope := m.scopes[session]
	delete(m.scopes, session)
	m.mu.Unlock()

	observe.DefaultMetrics().ActiveSessions.Add(context.Background(), -1)

	if scope != nil {
		scope.cancel()
		if err := scope.group.Wait(); err != nil {
			slog.Debug("session scope ended", "session_id", session, "error", err)
		}
	}
}
