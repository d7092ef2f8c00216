package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"dev/bravebird/frontend-verify/pkg/codegen"
	"dev/bravebird/frontend-verify/pkg/models"
	"dev/bravebird/frontend-verify/pkg/temporal/workflows"
)

// Store is the persistence the handlers need; *database.DB implements it
type Store interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	GetRun(ctx context.Context, id string) (*models.VerificationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
	ListUnfinishedRuns(ctx context.Context) ([]models.VerificationRun, error)
	AttachTemporalIDs(ctx context.Context, id, workflowID, temporalRunID string) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
	CompleteRun(ctx context.Context, result models.RunResult) error
	GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error)
}

// WorkflowClient is the subset of client.Client the handlers use
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

// Handlers contains API handlers
type Handlers struct {
	db             Store
	temporalClient WorkflowClient
	plan           models.Plan
	screenshotDir  string
	logger         *zap.Logger
	upgrader       websocket.Upgrader

	// PollInterval controls how often streams look for progress
	PollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandlers creates new API handlers. db may be nil, in which case run history is unavailable.
func NewHandlers(db Store, temporalClient WorkflowClient, plan models.Plan, screenshotDir string, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{
		db:             db,
		temporalClient: temporalClient,
		plan:           plan,
		screenshotDir:  screenshotDir,
		logger:         logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		PollInterval: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Close stops tracking in-flight runs and waits for trackers to exit
func (h *Handlers) Close() {
	h.cancel()
	h.wg.Wait()
}

func workflowIDFor(runID string) string {
	return "frontend-verify-" + runID
}

// ==================== Plan Handlers ====================

// GetPlan returns the plan new runs execute
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.plan)
}

// GetPlanScript returns the plan as a standalone Go Rod program
func (h *Handlers) GetPlanScript(w http.ResponseWriter, r *http.Request) {
	src, err := codegen.GenerateGoRodScript(h.plan)
	if err != nil {
		http.Error(w, "Failed to generate script: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/x-go; charset=utf-8")
	_, _ = io.WriteString(w, src)
}

// ==================== Run Handlers ====================

// StartVerification starts a verification workflow for the configured plan
func (h *Handlers) StartVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	headless := true
	if req.Headless != nil {
		headless = *req.Headless
	}

	runID := uuid.New().String()
	if h.db != nil {
		run := &models.VerificationRun{
			ID:       runID,
			PlanName: h.plan.Name,
			Status:   models.StatusPending,
		}
		if err := h.db.CreateRun(ctx, run); err != nil {
			http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	input := models.WorkflowInput{
		RunID:    runID,
		Plan:     h.plan,
		Headless: headless,
		Timeout:  req.Timeout,
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:        workflowIDFor(runID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, workflowOptions, workflows.VerificationWorkflow, input)
	if err != nil {
		if h.db != nil {
			_ = h.db.UpdateRunStatus(ctx, runID, models.StatusFailed, err.Error())
		}
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.db != nil {
		if err := h.db.AttachTemporalIDs(ctx, runID, we.GetID(), we.GetRunID()); err != nil {
			h.logger.Warn("Failed to record temporal ids", zap.String("runID", runID), zap.Error(err))
		}
		h.wg.Add(1)
		go h.track(runID, we)
	}

	h.logger.Info("Verification started", zap.String("runID", runID), zap.String("workflowID", we.GetID()))

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":               runID,
		"temporal_workflow_id": we.GetID(),
		"temporal_run_id":      we.GetRunID(),
		"status":               models.StatusRunning,
	})
}

// track waits for the workflow result and persists it
func (h *Handlers) track(runID string, we client.WorkflowRun) {
	defer h.wg.Done()

	var result models.RunResult
	err := we.Get(h.ctx, &result)
	if h.ctx.Err() != nil {
		h.logger.Warn("Stopped tracking unfinished run; it resumes on next start", zap.String("runID", runID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		status := models.StatusFailed
		if temporal.IsCanceledError(err) {
			status = models.StatusCanceled
		}
		if err := h.db.UpdateRunStatus(ctx, runID, status, err.Error()); err != nil {
			h.logger.Error("Failed to record run failure", zap.String("runID", runID), zap.Error(err))
		}
		return
	}

	result.RunID = runID
	if err := h.db.CompleteRun(ctx, result); err != nil {
		h.logger.Error("Failed to record run result", zap.String("runID", runID), zap.Error(err))
		return
	}
	h.logger.Info("Verification finished", zap.String("runID", runID), zap.String("status", string(result.Status)))
}

// ResumeTracking picks up runs left unfinished by a previous server process.
// Runs whose workflow never started are marked failed.
func (h *Handlers) ResumeTracking(ctx context.Context) (int, error) {
	if h.db == nil {
		return 0, nil
	}

	runs, err := h.db.ListUnfinishedRuns(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, run := range runs {
		if run.TemporalWorkflowID == "" {
			if err := h.db.UpdateRunStatus(ctx, run.ID, models.StatusFailed, "Workflow was never started"); err != nil {
				return resumed, err
			}
			continue
		}

		we := h.temporalClient.GetWorkflow(ctx, run.TemporalWorkflowID, run.TemporalRunID)
		h.wg.Add(1)
		go h.track(run.ID, we)
		resumed++
	}

	if resumed > 0 {
		h.logger.Info("Resumed tracking unfinished runs", zap.Int("count", resumed))
	}
	return resumed, nil
}

// ListRuns lists recent runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.db.ListRuns(ctx, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetRun retrieves a run with its step results
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.db.GetRun(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	results, err := h.db.GetStepResults(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	run.StepResults = results

	respondJSON(w, http.StatusOK, run)
}

// CancelRun cancels a running verification
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.db.GetRun(ctx, id)
	if err != nil || run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Status.Terminal() {
		http.Error(w, "Run already finished", http.StatusConflict)
		return
	}

	if run.TemporalWorkflowID != "" {
		if err := h.temporalClient.CancelWorkflow(ctx, run.TemporalWorkflowID, run.TemporalRunID); err != nil {
			http.Error(w, "Failed to cancel workflow: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := h.db.UpdateRunStatus(ctx, id, models.StatusCanceled, "Cancelled by user"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusCanceled)})
}

// StreamRunUpdates streams run progress via WebSocket until the run finishes
func (h *Handlers) StreamRunUpdates(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()

	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	lastStatus := models.RunStatus("")
	lastStepCount := -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			status, steps, ok := h.progress(ctx, runID)
			if !ok {
				continue
			}

			if status == lastStatus && len(steps) == lastStepCount {
				continue
			}
			msg := models.WSMessage{
				Type: "run_update",
				Payload: map[string]interface{}{
					"run_id":       runID,
					"status":       status,
					"step_results": steps,
				},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			lastStatus = status
			lastStepCount = len(steps)

			if status.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status)))
				return
			}
		}
	}
}

// progress prefers the live workflow query and falls back to the database
func (h *Handlers) progress(ctx context.Context, runID string) (models.RunStatus, []models.StepResult, bool) {
	if h.temporalClient != nil {
		resp, err := h.temporalClient.QueryWorkflow(ctx, workflowIDFor(runID), "", workflows.ProgressQuery)
		if err == nil {
			var result models.RunResult
			if resp.Get(&result) == nil && result.Status != "" {
				return result.Status, result.StepResults, true
			}
		}
	}

	if h.db == nil {
		return "", nil, false
	}
	run, err := h.db.GetRun(ctx, runID)
	if err != nil || run == nil {
		return "", nil, false
	}
	steps, err := h.db.GetStepResults(ctx, runID)
	if err != nil {
		return "", nil, false
	}
	return run.Status, steps, true
}

// ==================== Screenshot Handlers ====================

// ServeScreenshot serves a screenshot file
func (h *Handlers) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	// Only allow files from the screenshots directory
	filePath := filepath.Join(h.screenshotDir, filepath.Base(filename))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
