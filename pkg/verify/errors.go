package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dev/bravebird/frontend-verify/pkg/models"
)

// Error kinds as they appear in step results and Temporal application errors
const (
	KindAssertionTimeout = "AssertionTimeout"
	KindAutomation       = "AutomationError"
)

var (
	ErrAssertionTimeout = errors.New("assertion timed out")
	ErrAutomation       = errors.New("browser automation failed")
)

// AssertionTimeoutError means an expected element or text did not show up within its window
type AssertionTimeoutError struct {
	Step    models.Step
	Timeout time.Duration
	Err     error
}

func (e *AssertionTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s not satisfied within %s: %v", KindAssertionTimeout, stepLabel(e.Step), e.Timeout, e.Err)
}

func (e *AssertionTimeoutError) Unwrap() []error {
	return []error{ErrAssertionTimeout, e.Err}
}

// AutomationError wraps any other failure raised by the browser layer
type AutomationError struct {
	Step models.Step
	Err  error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", KindAutomation, stepLabel(e.Step), e.Err)
}

func (e *AutomationError) Unwrap() []error {
	return []error{ErrAutomation, e.Err}
}

// Kind returns the error kind for a verification error, or "" for anything else
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAssertionTimeout):
		return KindAssertionTimeout
	case errors.Is(err, ErrAutomation):
		return KindAutomation
	default:
		return ""
	}
}

// classify turns a raw rod error into one of the two verification error kinds.
// Only waiting steps can time out; a deadline on navigate or click is still an automation failure.
func classify(step models.Step, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if step.Waits() && errors.Is(err, context.DeadlineExceeded) {
		return &AssertionTimeoutError{Step: step, Timeout: timeout, Err: err}
	}
	return &AutomationError{Step: step, Err: err}
}

func stepLabel(step models.Step) string {
	target := describeTarget(step)
	if target == "" {
		return string(step.Type)
	}
	return string(step.Type) + " " + target
}

func describeTarget(step models.Step) string {
	switch {
	case step.URL != "":
		return fmt.Sprintf("%q", step.URL)
	case step.Path != "":
		return fmt.Sprintf("%q", step.Path)
	case step.Target.Selector != "" && step.Target.Text != "":
		return fmt.Sprintf("%q containing %q", step.Target.Selector, step.Target.Text)
	case step.Target.Selector != "":
		return fmt.Sprintf("%q", step.Target.Selector)
	case step.Target.Text != "":
		return fmt.Sprintf("text %q", step.Target.Text)
	default:
		return ""
	}
}
