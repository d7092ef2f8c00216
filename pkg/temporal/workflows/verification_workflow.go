package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/frontend-verify/pkg/models"
)

const (
	TaskQueue     = "frontend-verify"
	ProgressQuery = "getProgress"

	defaultActivityTimeout = 120 * time.Second

	// Headroom on top of a step's own wait window for browser round trips
	activityMargin = 15 * time.Second
)

// Error types the activities raise; neither is ever retried
const (
	ErrTypeAssertionTimeout = "AssertionTimeout"
	ErrTypeAutomation       = "AutomationError"
)

// VerificationWorkflow runs a verification plan step by step in one browser session
func VerificationWorkflow(ctx workflow.Context, input models.WorkflowInput) (models.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting verification workflow", "runID", input.RunID, "plan", input.Plan.Name)

	result := models.RunResult{
		RunID:       input.RunID,
		Status:      models.StatusRunning,
		StepResults: make([]models.StepResult, 0, len(input.Plan.Steps)),
	}

	// Register query handler for real-time progress
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.RunResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	startTime := workflow.Now(ctx)

	activityOptions := activityOptionsFor(input)
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	finish := func() (models.RunResult, error) {
		result.TotalDuration = workflow.Now(ctx).Sub(startTime).Milliseconds()
		logger.Info("Workflow completed", "status", result.Status, "duration", result.TotalDuration)
		return result, nil
	}

	if err := input.Plan.Validate(); err != nil {
		result.Status = models.StatusFailed
		result.ErrorMessage = "Invalid plan: " + err.Error()
		return finish()
	}

	// Execute browser initialization activity
	var session BrowserSession
	err = workflow.ExecuteActivity(ctx, "InitializeBrowserActivity", BrowserInitInput{
		Headless: input.Headless,
	}).Get(ctx, &session)
	if err != nil {
		result.Status = models.StatusFailed
		result.ErrorMessage = "Failed to initialize browser: " + err.Error()
		return finish()
	}

	defer func() {
		// Cleanup must run even when the workflow itself was canceled
		cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
		if err := workflow.ExecuteActivity(cleanupCtx, "CloseBrowserActivity", session.SessionID).Get(cleanupCtx, nil); err != nil {
			logger.Warn("Failed to close browser session", "sessionID", session.SessionID, "error", err)
		}
	}()

	for i, step := range input.Plan.Steps {
		sequence := i + 1
		logger.Info("Executing step", "sequence", sequence, "type", step.Type)

		var stepResult models.StepResult
		err := workflow.ExecuteActivity(ctx, "ExecuteStepActivity", StepInput{
			RunID:      input.RunID,
			SessionID:  session.SessionID,
			SequenceID: sequence,
			Plan:       input.Plan,
			Step:       step,
		}).Get(ctx, &stepResult)

		stepResult.RunID = input.RunID
		stepResult.SequenceID = sequence
		stepResult.StepType = step.Type
		stepResult.Description = step.Description

		if err != nil {
			stepResult.Status = models.StatusFailed
			stepResult.ErrorKind = stepErrorKind(step, err)
			stepResult.ErrorMessage = err.Error()

			// Take screenshot on failure
			var screenshotPath string
			_ = workflow.ExecuteActivity(ctx, "TakeScreenshotActivity", ScreenshotInput{
				SessionID: session.SessionID,
				Filename:  input.RunID + "_failure.png",
			}).Get(ctx, &screenshotPath)
			stepResult.ScreenshotPath = screenshotPath

			result.StepResults = append(result.StepResults, stepResult)
			result.Status = models.StatusFailed
			result.ErrorMessage = "Step " + string(step.Type) + " failed: " + err.Error()
			if temporal.IsCanceledError(err) {
				result.Status = models.StatusCanceled
			}
			return finish()
		}

		stepResult.Status = models.StatusSuccess
		if stepResult.ScreenshotPath != "" {
			result.ScreenshotPath = stepResult.ScreenshotPath
		}
		result.StepResults = append(result.StepResults, stepResult)
	}

	result.Status = models.StatusSuccess
	return finish()
}

// activityOptionsFor sizes activity timeouts so no step is cut off before its own
// wait window ends. A requested timeout shorter than that is raised to it.
// A failed assertion is a verdict, not a transient fault: no retries.
func activityOptionsFor(input models.WorkflowInput) workflow.ActivityOptions {
	stepBudget := input.Plan.LongestTimeout() + activityMargin

	timeout := time.Duration(input.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}
	if timeout < stepBudget {
		timeout = stepBudget
	}

	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    stepBudget,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        1,
			NonRetryableErrorTypes: []string{ErrTypeAssertionTimeout, ErrTypeAutomation},
		},
	}
}

// stepErrorKind maps an activity failure to a verification error kind. Activities
// raise typed application errors; a Temporal timeout of a waiting step still counts
// as an assertion timeout and everything else as an automation failure.
func stepErrorKind(step models.Step, err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	if temporal.IsTimeoutError(err) && step.Waits() {
		return ErrTypeAssertionTimeout
	}
	return ErrTypeAutomation
}

// BrowserSession holds browser session information
type BrowserSession struct {
	SessionID string `json:"session_id"`
}

// BrowserInitInput is the input for browser initialization
type BrowserInitInput struct {
	Headless bool `json:"headless"`
}

// StepInput is the input for executing a single plan step
type StepInput struct {
	RunID      string      `json:"run_id"`
	SessionID  string      `json:"session_id"`
	SequenceID int         `json:"sequence_id"`
	Plan       models.Plan `json:"plan"`
	Step       models.Step `json:"step"`
}

// ScreenshotInput is the input for taking a screenshot
type ScreenshotInput struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
}
