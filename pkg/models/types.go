package models

import (
	"time"
)

// ==================== Plan Types ====================

// StepType represents the kind of verification step
type StepType string

const (
	StepNavigate      StepType = "navigate"       // Load a URL and wait for the load event
	StepExpectVisible StepType = "expect_visible" // Wait until a locator is visible
	StepExpectText    StepType = "expect_text"    // Wait until text is rendered somewhere on the page
	StepClick         StepType = "click"          // Click a locator
	StepScreenshot    StepType = "screenshot"     // Capture the full page to a file
)

// Locator is a deferred DOM query. It is re-resolved every time a step uses it.
type Locator struct {
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"` // Substring the element text must contain
}

// Step is a single verification instruction
type Step struct {
	Type        StepType      `json:"type" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string        `json:"url,omitempty" yaml:"url,omitempty"`
	Target      Locator       `json:"target,omitempty" yaml:"target,omitempty"`
	Path        string        `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Zero means the plan default
}

// Plan is an ordered list of steps run against one page
type Plan struct {
	Name           string        `json:"name" yaml:"name"`
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
	SuccessMessage string        `json:"success_message" yaml:"success_message"`
	Steps          []Step        `json:"steps" yaml:"steps"`
}

// ==================== Run Types ====================

// RunStatus represents the status of a verification run
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// StepResult represents the outcome of executing a single step
type StepResult struct {
	ID             string    `json:"id" db:"id"`
	RunID          string    `json:"run_id" db:"run_id"`
	SequenceID     int       `json:"sequence_id" db:"sequence_id"`
	StepType       StepType  `json:"step_type" db:"step_type"`
	Description    string    `json:"description,omitempty" db:"description"`
	Status         RunStatus `json:"status" db:"status"`
	ErrorKind      string    `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage   string    `json:"error_message,omitempty" db:"error_message"`
	ScreenshotPath string    `json:"screenshot_path,omitempty" db:"screenshot_path"`
	Duration       int64     `json:"duration_ms" db:"duration_ms"`
	ExecutedAt     time.Time `json:"executed_at" db:"executed_at"`
}

// RunResult represents the outcome of one pass over a plan
type RunResult struct {
	RunID          string       `json:"run_id"`
	Status         RunStatus    `json:"status"`
	StepResults    []StepResult `json:"step_results"`
	ScreenshotPath string       `json:"screenshot_path,omitempty"`
	TotalDuration  int64        `json:"total_duration_ms"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

// VerificationRun is the persisted record of a run started through the service
type VerificationRun struct {
	ID                 string    `json:"id" db:"id"`
	PlanName           string    `json:"plan_name" db:"plan_name"`
	TemporalWorkflowID string    `json:"temporal_workflow_id" db:"temporal_workflow_id"`
	TemporalRunID      string    `json:"temporal_run_id" db:"temporal_run_id"`
	Status             RunStatus `json:"status" db:"status"`
	ErrorMessage       string    `json:"error_message,omitempty" db:"error_message"`
	ScreenshotPath     string    `json:"screenshot_path,omitempty" db:"screenshot_path"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	StartedAt          time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Computed fields
	StepResults []StepResult `json:"step_results,omitempty"`
}

// ==================== Workflow Types ====================

// WorkflowInput represents input for the verification workflow
type WorkflowInput struct {
	RunID    string `json:"run_id"`
	Plan     Plan   `json:"plan"`
	Headless bool   `json:"headless"`
	Timeout  int    `json:"timeout_seconds"` // Per-activity start-to-close timeout
}

// ==================== API Request/Response Types ====================

// VerifyRequest represents a request to start a verification run
type VerifyRequest struct {
	Headless *bool `json:"headless,omitempty"`
	Timeout  int   `json:"timeout_seconds,omitempty"`
}

// ==================== WebSocket Message Types ====================

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
