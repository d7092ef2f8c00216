package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/frontend-verify/pkg/browser"
	"dev/bravebird/frontend-verify/pkg/models"
	"dev/bravebird/frontend-verify/pkg/temporal/workflows"
	"dev/bravebird/frontend-verify/pkg/verify"
)

// BrowserPool manages browser sessions that outlive a single activity
type BrowserPool struct {
	sessions map[string]*SessionData
	mu       sync.RWMutex
}

// SessionData holds data for a browser session
type SessionData struct {
	Session   *browser.Session
	CreatedAt time.Time
}

// NewBrowserPool creates an empty pool
func NewBrowserPool() *BrowserPool {
	return &BrowserPool{sessions: make(map[string]*SessionData)}
}

func (p *BrowserPool) get(id string) (*SessionData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *BrowserPool) put(id string, s *SessionData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id] = s
}

func (p *BrowserPool) remove(id string) (*SessionData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	return s, ok
}

// Len returns the number of open sessions
func (p *BrowserPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// CloseAll closes every open session, used on worker shutdown
func (p *BrowserPool) CloseAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*SessionData)
	p.mu.Unlock()

	for _, s := range sessions {
		_ = s.Session.Close()
	}
}

// Activities holds activity implementations
type Activities struct {
	ScreenshotDir string
	BrowserBin    string
	Pool          *BrowserPool

	launch func(ctx context.Context, opts browser.Options) (*browser.Session, error)
}

// NewActivities creates new activities
func NewActivities(screenshotDir, browserBin string) *Activities {
	return &Activities{
		ScreenshotDir: screenshotDir,
		BrowserBin:    browserBin,
		Pool:          NewBrowserPool(),
		launch:        browser.Launch,
	}
}

// InitializeBrowserActivity launches a browser session and parks it in the pool
func (a *Activities) InitializeBrowserActivity(ctx context.Context, input workflows.BrowserInitInput) (workflows.BrowserSession, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Initializing browser session", "headless", input.Headless)

	// The session outlives this activity, so it must not inherit its context.
	session, err := a.launch(context.Background(), browser.Options{
		Headless: input.Headless,
		Bin:      a.BrowserBin,
	})
	if err != nil {
		return workflows.BrowserSession{}, temporal.NewNonRetryableApplicationError(err.Error(), verify.KindAutomation, err)
	}

	sessionID := uuid.New().String()
	a.Pool.put(sessionID, &SessionData{Session: session, CreatedAt: time.Now()})

	logger.Info("Browser session created", "sessionID", sessionID)
	return workflows.BrowserSession{SessionID: sessionID}, nil
}

// CloseBrowserActivity closes a browser session
func (a *Activities) CloseBrowserActivity(ctx context.Context, sessionID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Closing browser session", "sessionID", sessionID)

	session, ok := a.Pool.remove(sessionID)
	if !ok {
		return nil // Already closed
	}
	if err := session.Session.Close(); err != nil {
		logger.Warn("Browser did not close cleanly", "sessionID", sessionID, "error", err)
	}
	return nil
}

// ExecuteStepActivity executes a single plan step in an existing session
func (a *Activities) ExecuteStepActivity(ctx context.Context, input workflows.StepInput) (models.StepResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Executing step", "type", input.Step.Type, "sequence", input.SequenceID)

	result := models.StepResult{
		ID:          uuid.New().String(),
		RunID:       input.RunID,
		SequenceID:  input.SequenceID,
		StepType:    input.Step.Type,
		Description: input.Step.Description,
		Status:      models.StatusRunning,
		ExecutedAt:  time.Now(),
	}

	session, ok := a.Pool.get(input.SessionID)
	if !ok {
		return result, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("browser session not found: %s", input.SessionID), verify.KindAutomation, nil)
	}

	step := input.Step
	if step.Type == models.StepScreenshot {
		// Keep run evidence apart inside the screenshot directory
		step.Path = filepath.Join(a.ScreenshotDir, input.RunID+"_"+filepath.Base(step.Path))
	}

	stopHeartbeat := startHeartbeat(ctx, heartbeatInterval, input.SequenceID)
	err := verify.ExecuteStep(ctx, session.Session.Page(), input.Plan, step)
	stopHeartbeat()
	result.Duration = time.Since(result.ExecutedAt).Milliseconds()
	if err != nil {
		return result, temporal.NewNonRetryableApplicationError(err.Error(), verify.Kind(err), err)
	}

	result.Status = models.StatusSuccess
	if step.Type == models.StepScreenshot {
		result.ScreenshotPath = step.Path
	}

	activity.RecordHeartbeat(ctx, fmt.Sprintf("Completed step %d", input.SequenceID))
	return result, nil
}

// heartbeatInterval keeps steps alive well inside the workflow's heartbeat timeout
const heartbeatInterval = 5 * time.Second

// startHeartbeat records heartbeats until the returned stop func is called
func startHeartbeat(ctx context.Context, interval time.Duration, sequence int) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, fmt.Sprintf("Running step %d", sequence))
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// TakeScreenshotActivity captures the current page, typically after a failure
func (a *Activities) TakeScreenshotActivity(ctx context.Context, input workflows.ScreenshotInput) (string, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Taking screenshot", "sessionID", input.SessionID)

	session, ok := a.Pool.get(input.SessionID)
	if !ok {
		return "", fmt.Errorf("browser session not found: %s", input.SessionID)
	}

	// Ensure screenshot directory exists
	if err := os.MkdirAll(a.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}

	screenshotPath := filepath.Join(a.ScreenshotDir, filepath.Base(input.Filename))
	data, err := session.Session.Page().Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("failed to take screenshot: %w", err)
	}

	if err := os.WriteFile(screenshotPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save screenshot: %w", err)
	}

	return screenshotPath, nil
}
