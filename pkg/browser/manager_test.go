package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openconveyor/conveyor/pkg/result"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

type fakeEngine struct {
	ws     string
	closed bool
	mu     sync.Mutex
}

func (e *fakeEngine) WSEndpoint() string { return e.ws }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeLauncher struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	delay     time.Duration
	engines   []*fakeEngine
	shutdowns int
}

func (l *fakeLauncher) Launch(ctx context.Context, opts SessionOptions) (Engine, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launches++
	e := &fakeEngine{ws: fmt.Sprintf("ws://127.0.0.1:9000/devtools/browser/%d", l.launches)}
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *fakeLauncher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdowns++
	return nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeLauncher) {
	t.Helper()
	launcher := &fakeLauncher{}
	opts.Launcher = launcher
	opts.Telemetry = telemetry.NewNopTelemetry()
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Hour
	}
	m := NewManager(opts)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, launcher
}

func TestCreateSessionReturnsHandle(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	h, err := m.CreateSession(context.Background(), "sess-1", SessionOptions{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if h.SessionID != "sess-1" {
		t.Errorf("SessionID = %s, want sess-1", h.SessionID)
	}
	if !strings.HasPrefix(h.WSEndpoint, "ws://") {
		t.Errorf("WSEndpoint = %s, want ws:// URL", h.WSEndpoint)
	}
	// 32 bytes of entropy, hex encoded.
	if len(h.SessionToken) != 64 {
		t.Errorf("token length = %d, want 64", len(h.SessionToken))
	}
}

func TestSessionTokensAreUnique(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	h1, err := m.CreateSession(context.Background(), "a", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.CreateSession(context.Background(), "b", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if h1.SessionToken == h2.SessionToken {
		t.Error("two sessions produced the same token")
	}
}

func TestCreateSessionDuplicateID(t *testing.T) {
	m, launcher := newTestManager(t, Options{})

	if _, err := m.CreateSession(context.Background(), "dup", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := m.CreateSession(context.Background(), "dup", SessionOptions{})
	if err == nil {
		t.Fatal("duplicate CreateSession() succeeded")
	}
	if launcher.launchCount() != 1 {
		t.Errorf("launches = %d, want 1", launcher.launchCount())
	}
}

func TestAdmissionControlBeforeLaunch(t *testing.T) {
	m, launcher := newTestManager(t, Options{MaxSessions: 2})

	for i := 0; i < 2; i++ {
		if _, err := m.CreateSession(context.Background(), fmt.Sprintf("s%d", i), SessionOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := m.CreateSession(context.Background(), "overflow", SessionOptions{})
	if err == nil {
		t.Fatal("CreateSession() above capacity succeeded")
	}
	if !strings.Contains(err.Error(), "maximum number of sessions (2)") {
		t.Errorf("error = %q, want capacity message", err)
	}
	if launcher.launchCount() != 2 {
		t.Errorf("launches = %d, want 2 (no launch above capacity)", launcher.launchCount())
	}
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	m, launcher := newTestManager(t, Options{})

	h1, err := m.GetOrCreateSession(context.Background(), "shared", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := m.GetSession("shared")

	time.Sleep(5 * time.Millisecond)
	h2, err := m.GetOrCreateSession(context.Background(), "shared", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if h1 != h2 {
		t.Errorf("handles differ: %+v vs %+v", h1, h2)
	}
	if launcher.launchCount() != 1 {
		t.Errorf("launches = %d, want 1", launcher.launchCount())
	}
	after, _ := m.GetSession("shared")
	if !after.LastAccessed.After(before.LastAccessed) {
		t.Error("GetOrCreateSession did not touch last accessed time")
	}
}

func TestConcurrentGetOrCreateLaunchesOnce(t *testing.T) {
	m, launcher := newTestManager(t, Options{})
	launcher.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	handles := make([]Handle, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.GetOrCreateSession(context.Background(), "race", SessionOptions{})
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Errorf("goroutine %d got a different handle", i)
		}
	}
	if launcher.launchCount() != 1 {
		t.Errorf("launches = %d, want exactly 1", launcher.launchCount())
	}
}

func TestCloseSessionIdempotent(t *testing.T) {
	m, launcher := newTestManager(t, Options{})

	if _, err := m.CreateSession(context.Background(), "gone", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	if !m.CloseSession("gone") {
		t.Error("CloseSession() = false for live session")
	}
	if m.CloseSession("gone") {
		t.Error("CloseSession() = true for already-closed session")
	}
	if m.CloseSession("never-existed") {
		t.Error("CloseSession() = true for unknown session")
	}
	if !launcher.engines[0].isClosed() {
		t.Error("engine not closed")
	}
}

func TestAttachRequiresToken(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	h, err := m.CreateSession(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.Attach("auth", h.SessionToken)
	if err != nil {
		t.Fatalf("Attach() with valid token error = %v", err)
	}
	if got.WSEndpoint != h.WSEndpoint {
		t.Errorf("Attach() endpoint = %s, want %s", got.WSEndpoint, h.WSEndpoint)
	}

	_, err = m.Attach("auth", "wrong-token")
	var typed *result.Error
	if !errors.As(err, &typed) || typed.Code() != result.CodeAuthError {
		t.Errorf("Attach() with bad token error = %v, want %s", err, result.CodeAuthError)
	}

	_, err = m.Attach("missing", h.SessionToken)
	if !errors.As(err, &typed) || typed.Code() != result.CodeNotFound {
		t.Errorf("Attach() unknown id error = %v, want %s", err, result.CodeNotFound)
	}
}

func TestSweepEvictsOnlyIdleSessions(t *testing.T) {
	m, launcher := newTestManager(t, Options{IdleTimeout: 50 * time.Millisecond})

	if _, err := m.CreateSession(context.Background(), "idle", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateSession(context.Background(), "busy", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("busy"); err != nil {
		t.Fatal(err)
	}

	m.sweep(time.Now().Add(time.Second))

	if _, ok := m.GetSession("idle"); ok {
		t.Error("idle session survived the sweep")
	}
	if _, ok := m.GetSession("busy"); !ok {
		t.Error("in-use session was evicted")
	}
	if !launcher.engines[0].isClosed() {
		t.Error("evicted engine was not closed")
	}
}

func TestTouchedSessionSurvivesSweep(t *testing.T) {
	m, _ := newTestManager(t, Options{IdleTimeout: time.Hour})

	h, err := m.CreateSession(context.Background(), "fresh", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Attach("fresh", h.SessionToken); err != nil {
		t.Fatal(err)
	}

	m.sweep(time.Now())

	if _, ok := m.GetSession("fresh"); !ok {
		t.Error("recently touched session was evicted")
	}
}

func TestReleasedSessionBecomesEvictable(t *testing.T) {
	m, _ := newTestManager(t, Options{IdleTimeout: 10 * time.Millisecond})

	if _, err := m.CreateSession(context.Background(), "s", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("s"); err != nil {
		t.Fatal(err)
	}

	m.sweep(time.Now().Add(time.Hour))
	if _, ok := m.GetSession("s"); !ok {
		t.Fatal("acquired session was evicted")
	}

	m.Release("s")
	m.sweep(time.Now().Add(time.Hour))
	if _, ok := m.GetSession("s"); ok {
		t.Error("released idle session survived the sweep")
	}
}

func TestLaunchFailureLeavesNoResidue(t *testing.T) {
	m, launcher := newTestManager(t, Options{})
	launcher.launchErr = errors.New("chromium missing")

	_, err := m.CreateSession(context.Background(), "broken", SessionOptions{})
	if err == nil {
		t.Fatal("CreateSession() succeeded with failing launcher")
	}
	if _, ok := m.GetSession("broken"); ok {
		t.Error("failed launch left a session in the pool")
	}

	// The slot is free for a later attempt.
	launcher.mu.Lock()
	launcher.launchErr = nil
	launcher.mu.Unlock()
	if _, err := m.CreateSession(context.Background(), "broken", SessionOptions{}); err != nil {
		t.Errorf("retry after failed launch error = %v", err)
	}
}

func TestListSessionsSorted(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if _, err := m.CreateSession(context.Background(), id, SessionOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	infos := m.ListSessions()
	if len(infos) != 3 {
		t.Fatalf("ListSessions() returned %d sessions, want 3", len(infos))
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, info := range infos {
		if info.SessionID != want[i] {
			t.Errorf("infos[%d].SessionID = %s, want %s", i, info.SessionID, want[i])
		}
		if !info.Headless {
			t.Errorf("infos[%d].Headless = false, want true by default", i)
		}
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	launcher := &fakeLauncher{}
	m := NewManager(Options{
		Launcher:      launcher,
		Telemetry:     telemetry.NewNopTelemetry(),
		SweepInterval: time.Hour,
	})

	for _, id := range []string{"x", "y"} {
		if _, err := m.CreateSession(context.Background(), id, SessionOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for i, e := range launcher.engines {
		if !e.isClosed() {
			t.Errorf("engine %d not closed on shutdown", i)
		}
	}
	if launcher.shutdowns != 1 {
		t.Errorf("launcher shutdowns = %d, want 1", launcher.shutdowns)
	}
}
