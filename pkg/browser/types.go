package browser

import "time"

// Pool defaults.
const (
	DefaultMaxSessions   = 4
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	DefaultLaunchTimeout = 30 * time.Second
)

// SessionOptions configures one browser session launch.
type SessionOptions struct {
	// Headed runs the browser with a visible window. The zero value is
	// headless.
	Headed bool

	// Args are extra engine command-line arguments.
	Args []string

	// LaunchTimeout bounds the engine launch. Zero uses
	// DefaultLaunchTimeout.
	LaunchTimeout time.Duration
}

// Handle is what callers hold for a pooled session: enough to reattach
// over CDP, never the process itself.
type Handle struct {
	SessionID    string `json:"session_id"`
	WSEndpoint   string `json:"ws_endpoint"`
	SessionToken string `json:"session_token"`
}

// Info is a point-in-time snapshot of one pooled session.
type Info struct {
	SessionID    string    `json:"session_id"`
	WSEndpoint   string    `json:"ws_endpoint"`
	Headless     bool      `json:"headless"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ContextCount int       `json:"context_count"`
}
