// Package browser owns the lifecycle of a single headless Chromium process and its page.
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures how the browser process is started
type Options struct {
	Headless bool
	Bin      string // Explicit Chromium binary; falls back to CHROME_BIN, then rod's lookup
}

// DefaultOptions returns headless options
func DefaultOptions() Options {
	return Options{Headless: true}
}

// Session is a launched browser with one page. Close must be called exactly once
// per successful Launch; extra calls are no-ops.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	closeOnce sync.Once
	closeErr  error
}

// Launch starts Chromium, connects to it and opens a blank page
func Launch(ctx context.Context, opts Options) (*Session, error) {
	l := launcher.New().Context(ctx)

	// Use CHROME_BIN if set (Docker environment)
	bin := opts.Bin
	if bin == "" {
		bin = os.Getenv("CHROME_BIN")
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	l = l.Headless(opts.Headless)

	// Additional Chrome flags for container compatibility
	l = l.Set("no-sandbox")
	l = l.Set("disable-gpu")
	l = l.Set("disable-dev-shm-usage")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	s := &Session{launcher: l}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		s.kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	s.page = page

	return s, nil
}

// Page returns the session's only page
func (s *Session) Page() *rod.Page {
	return s.page
}

// Browser returns the underlying rod browser
func (s *Session) Browser() *rod.Browser {
	return s.browser
}

// Close shuts the browser down and waits for the process to exit
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				s.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		}
		s.kill()
	})
	return s.closeErr
}

// kill terminates the process even if the CDP close did not get through
func (s *Session) kill() {
	if s.launcher == nil {
		return
	}
	s.launcher.Kill()
	s.launcher.Cleanup()
}
