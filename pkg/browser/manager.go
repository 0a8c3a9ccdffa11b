package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openconveyor/conveyor/pkg/result"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

// Options configures a Manager.
type Options struct {
	// MaxSessions is the hard pool limit. Zero uses DefaultMaxSessions.
	MaxSessions int

	// IdleTimeout evicts sessions not accessed for this long. Zero uses
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs. Zero uses
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// Launcher starts engine processes. Nil uses the playwright launcher.
	Launcher Launcher

	// Telemetry supplies logging, metrics, and tracing. Nil uses a no-op
	// bundle.
	Telemetry *telemetry.Telemetry
}

// Manager is the pooled browser session manager. All mutation of the
// session table goes through one mutex; callers only ever hold Handle
// triples, never the engine itself.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxSessions   int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	launcher      Launcher
	tel           *telemetry.Telemetry
	logger        *telemetry.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager and starts its idle-eviction sweep.
func NewManager(opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Launcher == nil {
		opts.Launcher = NewPlaywrightLauncher()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}

	m := &Manager{
		sessions:      make(map[string]*session),
		maxSessions:   opts.MaxSessions,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		launcher:      opts.Launcher,
		tel:           tel,
		logger:        tel.Logger.NewComponentLogger("browser"),
		stop:          make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// CreateSession launches a new session under the given id. An empty id is
// assigned a uuid. It fails without launching when the id is taken or the
// pool is at capacity.
func (m *Manager) CreateSession(ctx context.Context, id string, opts SessionOptions) (Handle, error) {
	if id == "" {
		id = uuid.NewString()
	}

	s, err := m.admit(id, opts)
	if err != nil {
		return Handle{}, err
	}
	return m.launch(ctx, s, opts)
}

// GetOrCreateSession returns the existing session's handle, touching its
// last-accessed time, or launches it when absent. Concurrent calls for the
// same id launch at most one engine.
func (m *Manager) GetOrCreateSession(ctx context.Context, id string, opts SessionOptions) (Handle, error) {
	if id == "" {
		return Handle{}, fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return m.await(ctx, s)
	}
	m.mu.Unlock()

	s, err := m.admit(id, opts)
	if err != nil {
		// Lost the race to another creator: join its launch.
		m.mu.Lock()
		if existing, ok := m.sessions[id]; ok {
			m.mu.Unlock()
			return m.await(ctx, existing)
		}
		m.mu.Unlock()
		return Handle{}, err
	}
	return m.launch(ctx, s, opts)
}

// GetSession returns a snapshot of the session without touching its
// last-accessed time.
func (m *Manager) GetSession(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Attach validates the session token and returns the handle for remote
// reattachment. The id alone is never sufficient.
func (m *Manager) Attach(id, token string) (Handle, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Handle{}, result.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	want := s.token
	m.mu.Unlock()

	if !tokenMatches(want, token) {
		return Handle{}, result.NewAuthenticationError("invalid session token")
	}

	<-s.ready
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.launchErr != nil {
		return Handle{}, s.launchErr
	}
	s.lastAccessed = time.Now()
	return s.handle(), nil
}

// Acquire marks the session as in use, protecting it from idle eviction,
// and returns its handle. Pair with Release.
func (m *Manager) Acquire(id string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.engine == nil {
		return Handle{}, result.NewNotFoundError(fmt.Sprintf("session %q not found", id))
	}
	s.contextCount++
	s.lastAccessed = time.Now()
	return s.handle(), nil
}

// Release drops one in-use reference taken by Acquire.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	if s.contextCount > 0 {
		s.contextCount--
	}
	s.lastAccessed = time.Now()
}

// CloseSession closes the session's engine and removes it from the pool.
// It reports whether the session existed; closing an unknown id is not an
// error.
func (m *Manager) CloseSession(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	<-s.ready

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[id]; !ok || current != s {
		return false
	}
	m.closeLocked(s, false)
	return true
}

// ListSessions returns snapshots of all pooled sessions ordered by id.
func (m *Manager) ListSessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Shutdown stops the sweep, closes all sessions, and releases the
// launcher.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.engine != nil {
			m.closeLocked(s, false)
		} else {
			delete(m.sessions, s.id)
		}
	}
	m.mu.Unlock()

	return m.launcher.Shutdown()
}

// admit reserves a slot for id under the pool limit. The launch itself
// happens outside the lock.
func (m *Manager) admit(id string, opts SessionOptions) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already exists", id)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("maximum number of sessions (%d) reached", m.maxSessions)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &session{
		id:           id,
		token:        token,
		headless:     !opts.Headed,
		createdAt:    now,
		lastAccessed: now,
		ready:        make(chan struct{}),
	}
	m.sessions[id] = s
	return s, nil
}

// launch runs the engine launch for a freshly admitted session.
func (m *Manager) launch(ctx context.Context, s *session, opts SessionOptions) (Handle, error) {
	ctx, span := m.tel.Tracer.StartSessionLaunch(ctx, s.id)
	defer span.End()

	started := time.Now()
	engine, err := m.launcher.Launch(ctx, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		s.launchErr = fmt.Errorf("failed to launch session %q: %w", s.id, err)
		delete(m.sessions, s.id)
		close(s.ready)
		telemetry.RecordOutcome(span, false, string(result.CodeExecutionError))
		return Handle{}, s.launchErr
	}

	s.engine = engine
	close(s.ready)
	m.tel.Metrics.SessionOpened(time.Since(started))
	telemetry.RecordOutcome(span, true, "")
	m.logger.WithSessionID(s.id).Infof("session launched in %s", time.Since(started).Round(time.Millisecond))
	return s.handle(), nil
}

// await blocks until the session's launch settles and returns its handle.
func (m *Manager) await(ctx context.Context, s *session) (Handle, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.launchErr != nil {
		return Handle{}, s.launchErr
	}
	if current, ok := m.sessions[s.id]; !ok || current != s {
		return Handle{}, result.NewNotFoundError(fmt.Sprintf("session %q not found", s.id))
	}
	s.lastAccessed = time.Now()
	return s.handle(), nil
}

// closeLocked removes the session and closes its engine. Callers hold the
// mutex.
func (m *Manager) closeLocked(s *session, evicted bool) {
	if err := s.engine.Close(); err != nil {
		m.logger.WithSessionID(s.id).WithError(err).Warn("failed to close engine")
	}
	delete(m.sessions, s.id)
	m.tel.Metrics.SessionClosed(evicted)
}

// sweepLoop evicts idle sessions until Shutdown.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep closes sessions idle past the timeout. Sessions with in-flight
// references or touched since the cutoff are left alone.
func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.engine == nil || s.contextCount > 0 {
			continue
		}
		if now.Sub(s.lastAccessed) <= m.idleTimeout {
			continue
		}
		m.logger.WithSessionID(s.id).Info("evicting idle session")
		m.closeLocked(s, true)
	}
}
