package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Engine is one launched browser-engine process.
type Engine interface {
	// WSEndpoint returns the CDP websocket URL of the engine.
	WSEndpoint() string

	// Close terminates the engine process.
	Close() error
}

// Launcher starts browser-engine processes. Implementations must be safe
// for concurrent use.
type Launcher interface {
	Launch(ctx context.Context, opts SessionOptions) (Engine, error)

	// Shutdown releases launcher-wide resources after all engines are
	// closed.
	Shutdown() error
}

// PlaywrightLauncher launches Chromium through playwright-go. The engine
// is started with a remote debugging port so out-of-process callers can
// attach over CDP.
type PlaywrightLauncher struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	installOnce sync.Once
	installErr  error
}

// NewPlaywrightLauncher creates the production launcher. The playwright
// driver is started lazily on first launch.
func NewPlaywrightLauncher() *PlaywrightLauncher {
	return &PlaywrightLauncher{}
}

func (l *PlaywrightLauncher) runtime() (*playwright.Playwright, error) {
	l.installOnce.Do(func() {
		opts := &playwright.RunOptions{
			Verbose: false,
			Stdout:  io.Discard,
			Stderr:  io.Discard,
		}
		if err := playwright.Install(opts); err != nil {
			l.installErr = fmt.Errorf("failed to install playwright: %w", err)
			return
		}
		pw, err := playwright.Run(opts)
		if err != nil {
			l.installErr = fmt.Errorf("failed to start playwright: %w", err)
			return
		}
		l.mu.Lock()
		l.pw = pw
		l.mu.Unlock()
	})
	if l.installErr != nil {
		return nil, l.installErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pw, nil
}

// Launch starts a Chromium process and resolves its CDP websocket endpoint
// from the debugging port's /json/version document.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts SessionOptions) (Engine, error) {
	pw, err := l.runtime()
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate debugging port: %w", err)
	}

	headless := !opts.Headed
	args := append([]string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--remote-debugging-address=127.0.0.1",
	}, opts.Args...)

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	timeout := opts.LaunchTimeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	wsEndpoint, err := resolveWSEndpoint(ctx, port, timeout)
	if err != nil {
		b.Close()
		return nil, err
	}

	return &playwrightEngine{browser: b, wsEndpoint: wsEndpoint}, nil
}

// Shutdown stops the playwright driver.
func (l *PlaywrightLauncher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type playwrightEngine struct {
	browser    playwright.Browser
	wsEndpoint string
}

func (e *playwrightEngine) WSEndpoint() string {
	return e.wsEndpoint
}

func (e *playwrightEngine) Close() error {
	return e.browser.Close()
}

// resolveWSEndpoint polls the engine's debugging port until it publishes
// its websocket URL.
func resolveWSEndpoint(ctx context.Context, port int, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ws, err := fetchWSEndpoint(ctx, url)
		if err == nil {
			return ws, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("debugging endpoint did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func fetchWSEndpoint(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("failed to decode version document: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("version document has no websocket URL")
	}
	return version.WebSocketDebuggerURL, nil
}

// freePort asks the kernel for an unused local TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
