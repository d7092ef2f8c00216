package workflows

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/frontend-verify/pkg/models"
)

func TestActivityOptionsCoverLongestStep(t *testing.T) {
	slowPlan := models.DefaultPlan()
	slowPlan.Steps[3].Timeout = 45 * time.Second

	glacialPlan := models.DefaultPlan()
	glacialPlan.Steps[1].Timeout = 200 * time.Second

	tests := []struct {
		name             string
		input            models.WorkflowInput
		wantStartToClose time.Duration
		wantHeartbeat    time.Duration
	}{
		{
			name:             "default plan, no requested timeout",
			input:            models.WorkflowInput{Plan: models.DefaultPlan()},
			wantStartToClose: defaultActivityTimeout,
			wantHeartbeat:    models.NavigationTimeout + activityMargin,
		},
		{
			name:             "requested timeout shorter than navigation",
			input:            models.WorkflowInput{Plan: models.DefaultPlan(), Timeout: 5},
			wantStartToClose: models.NavigationTimeout + activityMargin,
			wantHeartbeat:    models.NavigationTimeout + activityMargin,
		},
		{
			name:             "step override wider than navigation",
			input:            models.WorkflowInput{Plan: slowPlan, Timeout: 30},
			wantStartToClose: 45*time.Second + activityMargin,
			wantHeartbeat:    45*time.Second + activityMargin,
		},
		{
			name:             "step window beyond default activity timeout",
			input:            models.WorkflowInput{Plan: glacialPlan},
			wantStartToClose: 200*time.Second + activityMargin,
			wantHeartbeat:    200*time.Second + activityMargin,
		},
		{
			name:             "generous requested timeout kept",
			input:            models.WorkflowInput{Plan: models.DefaultPlan(), Timeout: 600},
			wantStartToClose: 600 * time.Second,
			wantHeartbeat:    models.NavigationTimeout + activityMargin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := activityOptionsFor(tt.input)
			assert.Equal(t, tt.wantStartToClose, opts.StartToCloseTimeout)
			assert.Equal(t, tt.wantHeartbeat, opts.HeartbeatTimeout)
			assert.Equal(t, int32(1), opts.RetryPolicy.MaximumAttempts)

			for _, step := range tt.input.Plan.Steps {
				window := tt.input.Plan.TimeoutFor(step)
				assert.Greater(t, opts.HeartbeatTimeout, window, "step %s", step.Type)
				assert.Greater(t, opts.StartToCloseTimeout, window, "step %s", step.Type)
			}
		})
	}
}

func TestStepErrorKind(t *testing.T) {
	visible := models.Step{Type: models.StepExpectVisible}
	navigate := models.Step{Type: models.StepNavigate}

	tests := []struct {
		name string
		step models.Step
		err  error
		want string
	}{
		{
			name: "typed application error",
			step: navigate,
			err:  temporal.NewNonRetryableApplicationError("banner missing", ErrTypeAssertionTimeout, nil),
			want: ErrTypeAssertionTimeout,
		},
		{name: "heartbeat timeout on wait", step: visible, err: temporal.NewHeartbeatTimeoutError(), want: ErrTypeAssertionTimeout},
		{name: "heartbeat timeout on navigate", step: navigate, err: temporal.NewHeartbeatTimeoutError(), want: ErrTypeAutomation},
		{name: "untyped failure", step: visible, err: errors.New("worker crashed"), want: ErrTypeAutomation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stepErrorKind(tt.step, tt.err))
		})
	}
}
