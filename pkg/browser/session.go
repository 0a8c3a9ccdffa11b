package browser

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenBytes is the entropy of a session token before encoding.
const tokenBytes = 32

// session is the pool's internal record for one launched engine. All
// fields are guarded by the manager mutex except engine, which is written
// once before ready is closed.
type session struct {
	id           string
	token        string
	headless     bool
	createdAt    time.Time
	lastAccessed time.Time
	contextCount int

	engine Engine

	// ready is closed once the launch finished (successfully or not).
	// launchErr is only read after ready is closed.
	ready     chan struct{}
	launchErr error
}

func (s *session) handle() Handle {
	return Handle{
		SessionID:    s.id,
		WSEndpoint:   s.engine.WSEndpoint(),
		SessionToken: s.token,
	}
}

func (s *session) info() Info {
	var ws string
	if s.engine != nil {
		ws = s.engine.WSEndpoint()
	}
	return Info{
		SessionID:    s.id,
		WSEndpoint:   ws,
		Headless:     s.headless,
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
		ContextCount: s.contextCount,
	}
}

// newSessionToken returns a hex-encoded token with tokenBytes bytes of
// entropy from crypto/rand.
func newSessionToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// tokenMatches compares tokens in constant time.
func tokenMatches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
