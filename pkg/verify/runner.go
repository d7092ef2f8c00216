// Package verify drives a headless browser through a verification plan and reports
// the first step that fails.
package verify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev/bravebird/frontend-verify/pkg/browser"
	"dev/bravebird/frontend-verify/pkg/models"
)

// stepLaunch labels failures that happen before the first plan step
const stepLaunch models.StepType = "launch"

// Runner executes plans, one browser session per run
type Runner struct {
	opts   browser.Options
	logger *zap.Logger
	out    io.Writer
}

// NewRunner creates a runner. The success line is written to out.
func NewRunner(opts browser.Options, logger *zap.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{opts: opts, logger: logger, out: out}
}

// Run launches a browser, executes every step in order and closes the browser on
// every exit path. The first failing step aborts the run; its error is returned.
func (r *Runner) Run(ctx context.Context, plan models.Plan) (models.RunResult, error) {
	result := models.RunResult{
		RunID:       uuid.New().String(),
		Status:      models.StatusRunning,
		StepResults: make([]models.StepResult, 0, len(plan.Steps)),
	}
	startTime := time.Now()
	logger := r.logger.With(zap.String("runID", result.RunID), zap.String("plan", plan.Name))

	finish := func(err error) (models.RunResult, error) {
		result.TotalDuration = time.Since(startTime).Milliseconds()
		if err != nil {
			result.Status = models.StatusFailed
			result.ErrorMessage = err.Error()
			logger.Error("Verification failed", zap.String("kind", Kind(err)), zap.Error(err))
			return result, err
		}
		result.Status = models.StatusSuccess
		logger.Info("Verification completed", zap.Int64("durationMs", result.TotalDuration))
		return result, nil
	}

	if err := plan.Validate(); err != nil {
		return finish(fmt.Errorf("invalid plan: %w", err))
	}

	logger.Info("Launching browser", zap.Bool("headless", r.opts.Headless))
	session, err := browser.Launch(ctx, r.opts)
	if err != nil {
		return finish(&AutomationError{Step: models.Step{Type: stepLaunch}, Err: err})
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Browser did not close cleanly", zap.Error(err))
		}
	}()

	for i, step := range plan.Steps {
		sr, err := runStep(ctx, session, plan, step)
		sr.RunID = result.RunID
		sr.SequenceID = i + 1
		result.StepResults = append(result.StepResults, sr)

		if err != nil {
			return finish(err)
		}
		logger.Info("Step passed",
			zap.Int("sequence", sr.SequenceID),
			zap.String("type", string(step.Type)),
			zap.String("description", step.Description),
			zap.Int64("durationMs", sr.Duration),
		)
		if step.Type == models.StepScreenshot {
			result.ScreenshotPath = step.Path
		}
	}

	if _, err := fmt.Fprintln(r.out, plan.SuccessMessage); err != nil {
		return finish(fmt.Errorf("failed to report success: %w", err))
	}
	return finish(nil)
}

func runStep(ctx context.Context, session *browser.Session, plan models.Plan, step models.Step) (models.StepResult, error) {
	sr := models.StepResult{
		ID:          uuid.New().String(),
		StepType:    step.Type,
		Description: step.Description,
		Status:      models.StatusRunning,
		ExecutedAt:  time.Now(),
	}

	err := ExecuteStep(ctx, session.Page(), plan, step)
	sr.Duration = time.Since(sr.ExecutedAt).Milliseconds()
	if err != nil {
		sr.Status = models.StatusFailed
		sr.ErrorKind = Kind(err)
		sr.ErrorMessage = err.Error()
		return sr, err
	}

	sr.Status = models.StatusSuccess
	if step.Type == models.StepScreenshot {
		sr.ScreenshotPath = step.Path
	}
	return sr, nil
}
