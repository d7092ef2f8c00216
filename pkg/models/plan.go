package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTargetURL      = "http://localhost:3000"
	DefaultScreenshotPath = "verification_edinburgh.png"
	DefaultStepTimeout    = 5 * time.Second
	ListItemTimeout       = 10 * time.Second
	NavigationTimeout     = 30 * time.Second
)

// DefaultPlan returns the Edinburgh destination check
func DefaultPlan() Plan {
	edinburgh := Locator{Selector: "#destination-list li h3", Text: "Edinburgh"}

	return Plan{
		Name:           "edinburgh",
		DefaultTimeout: DefaultStepTimeout,
		SuccessMessage: "Verification successful: Edinburgh found and rendered.",
		Steps: []Step{
			{Type: StepNavigate, Description: "open destination list", URL: DefaultTargetURL},
			{Type: StepExpectVisible, Description: "Edinburgh list item is visible", Target: edinburgh, Timeout: ListItemTimeout},
			{Type: StepClick, Description: "select Edinburgh", Target: edinburgh},
			{Type: StepExpectVisible, Description: "city banner is visible", Target: Locator{Selector: ".city-banner"}},
			// The description text is repeated in the historical context section, so only the first match counts.
			{Type: StepExpectText, Description: "Edinburgh description is rendered", Target: Locator{Text: "Castle Rock and Arthur's Seat"}},
			{Type: StepScreenshot, Description: "capture evidence", Path: DefaultScreenshotPath},
		},
	}
}

// TimeoutFor returns the wait window for a step
func (p Plan) TimeoutFor(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	if step.Type == StepNavigate {
		return NavigationTimeout
	}
	if p.DefaultTimeout > 0 {
		return p.DefaultTimeout
	}
	return DefaultStepTimeout
}

// LongestTimeout returns the widest wait window of any step in the plan
func (p Plan) LongestTimeout() time.Duration {
	var longest time.Duration
	for _, step := range p.Steps {
		if d := p.TimeoutFor(step); d > longest {
			longest = d
		}
	}
	return longest
}

// Waits reports whether the step only waits for the page to reach a state
func (s Step) Waits() bool {
	return s.Type == StepExpectVisible || s.Type == StepExpectText
}

// Validate checks that every step carries the fields its type needs
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Name)
	}
	for i, step := range p.Steps {
		var missing string
		switch step.Type {
		case StepNavigate:
			if step.URL == "" {
				missing = "url"
			}
		case StepExpectVisible, StepClick:
			if step.Target.Selector == "" {
				missing = "target.selector"
			}
		case StepExpectText:
			if step.Target.Text == "" {
				missing = "target.text"
			}
		case StepScreenshot:
			if step.Path == "" {
				missing = "path"
			}
		default:
			return fmt.Errorf("step %d: unsupported step type %q", i+1, step.Type)
		}
		if missing != "" {
			return fmt.Errorf("step %d (%s): missing %s", i+1, step.Type, missing)
		}
	}
	return nil
}

// ScreenshotPath returns the path of the last screenshot step, if any
func (p Plan) ScreenshotPath() string {
	path := ""
	for _, step := range p.Steps {
		if step.Type == StepScreenshot {
			path = step.Path
		}
	}
	return path
}

// LoadPlan reads a YAML plan file. Missing defaults are filled from DefaultPlan.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan: %w", err)
	}

	defaults := DefaultPlan()
	if plan.Name == "" {
		plan.Name = defaults.Name
	}
	if plan.DefaultTimeout == 0 {
		plan.DefaultTimeout = defaults.DefaultTimeout
	}
	if plan.SuccessMessage == "" {
		plan.SuccessMessage = defaults.SuccessMessage
	}

	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}
