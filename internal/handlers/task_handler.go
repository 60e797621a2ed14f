package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gigpay/backend/internal/ledger"
	"github.com/gigpay/backend/internal/middleware"
	"github.com/gigpay/backend/internal/models"
	"github.com/gigpay/backend/internal/services"
	"github.com/gigpay/backend/internal/sweep"
)

// TaskLifecycle is the slice of the lifecycle service the handler calls.
type TaskLifecycle interface {
	Create(ctx context.Context, posterID uuid.UUID, title, description string, rewardCents int64, deadline *time.Time) (*models.Task, *models.EscrowTransaction, error)
	Accept(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	Start(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	Submit(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	Approve(ctx context.Context, taskID, posterID uuid.UUID) (*services.ReleaseResult, error)
	Dispute(ctx context.Context, taskID, raisedBy uuid.UUID, reason string) (*models.Dispute, error)
	Cancel(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	GetEscrow(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error)
}

// DisputeResolver applies an adjudicated outcome.
type DisputeResolver interface {
	Resolve(ctx context.Context, disputeID uuid.UUID, outcome string, doerRatio float64, resolvedBy uuid.UUID) (*services.Resolution, error)
}

// SweepRunner runs one auto-release pass.
type SweepRunner interface {
	Sweep(ctx context.Context) (*sweep.Result, error)
}

// TaskLister serves the read-side task listings.
type TaskLister interface {
	ListOpen(ctx context.Context) ([]*models.Task, error)
	ListByPosterID(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error)
	ListByDoerID(ctx context.Context, doerID uuid.UUID) ([]*models.Task, error)
}

// DisputeLister serves the adjudication queue.
type DisputeLister interface {
	ListOpen(ctx context.Context) ([]*models.Dispute, error)
}

// TaskHandler serves the /v1/tasks, /v1/disputes and /v1/sweep endpoints.
type TaskHandler struct {
	Lifecycle TaskLifecycle
	Resolver  DisputeResolver
	Sweeper   SweepRunner
	Tasks     TaskLister
	Disputes  DisputeLister
	Validator *services.Validator
	Logger    *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service sentinels onto HTTP statuses. Race losses
// (already assigned, already resolved) and state conflicts are 409s; the
// caller can refetch and see who won.
func (h *TaskHandler) writeServiceError(w http.ResponseWriter, err error) {
	var stateErr *services.InvalidStateError
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, services.ErrAlreadyAssigned):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task already assigned"})
	case errors.Is(err, services.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "dispute already resolved"})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": stateErr.Error()})
	case errors.Is(err, services.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient funds"})
	case errors.Is(err, services.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func principal(w http.ResponseWriter, r *http.Request) *middleware.Principal {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return p
}

func taskIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	RewardCents int64      `json:"reward_cents"`
	Deadline    *time.Time `json:"deadline"`
}

type taskWithEscrowResponse struct {
	Task   *models.Task              `json:"task"`
	Escrow *models.EscrowTransaction `json:"escrow"`
}

// CreateTask handles POST /v1/tasks. The body is schema-checked before
// decoding; the escrow is funded from the poster's wallet in the same
// transaction that opens the task.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if err := h.Validator.ValidateCreateTask(body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, escrow, err := h.Lifecycle.Create(r.Context(), p.ID, req.Title, req.Description, req.RewardCents, req.Deadline)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskWithEscrowResponse{Task: task, Escrow: escrow})
}

// ListTasks handles GET /v1/tasks. view=open (default) lists the board;
// view=posted and view=assigned list the caller's own tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	var (
		tasks []*models.Task
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "open":
		tasks, err = h.Tasks.ListOpen(r.Context())
	case "posted":
		tasks, err = h.Tasks.ListByPosterID(r.Context(), p.ID)
	case "assigned":
		tasks, err = h.Tasks.ListByDoerID(r.Context(), p.ID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "view must be open, posted or assigned"})
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /v1/tasks/{id}: the task and its escrow.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if p := principal(w, r); p == nil {
		return
	}
	taskID, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	task, err := h.Lifecycle.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	escrow, err := h.Lifecycle.GetEscrow(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskWithEscrowResponse{Task: task, Escrow: escrow})
}

// AcceptTask handles POST /v1/tasks/{id}/accept.
func (h *TaskHandler) AcceptTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Accept)
}

// StartTask handles POST /v1/tasks/{id}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Start)
}

// SubmitTask handles POST /v1/tasks/{id}/submit.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Submit)
}

// CancelTask handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Lifecycle.Cancel)
}

func (h *TaskHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error)) {
	p := principal(w, r)
	if p == nil {
		return
	}
	taskID, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	task, err := op(r.Context(), taskID, p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ApproveTask handles POST /v1/tasks/{id}/approve: the poster's manual
// release of the escrow.
func (h *TaskHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	taskID, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	result, err := h.Lifecycle.Approve(r.Context(), taskID, p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type disputeTaskRequest struct {
	Reason string `json:"reason"`
}

// DisputeTask handles POST /v1/tasks/{id}/dispute.
func (h *TaskHandler) DisputeTask(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	taskID, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	var req disputeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	dispute, err := h.Lifecycle.Dispute(r.Context(), taskID, p.ID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dispute)
}

type resolveDisputeRequest struct {
	Outcome   string  `json:"outcome"`
	DoerRatio float64 `json:"doer_ratio"`
}

// ResolveDispute handles POST /v1/disputes/{id}/resolve. The route is behind
// RequireRole(admin); the handler only records who resolved it.
func (h *TaskHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	p := principal(w, r)
	if p == nil {
		return
	}
	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dispute id"})
		return
	}
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	resolution, err := h.Resolver.Resolve(r.Context(), disputeID, req.Outcome, req.DoerRatio, p.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// ListOpenDisputes handles GET /v1/disputes: the admin adjudication queue.
func (h *TaskHandler) ListOpenDisputes(w http.ResponseWriter, r *http.Request) {
	if p := principal(w, r); p == nil {
		return
	}
	disputes, err := h.Disputes.ListOpen(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if disputes == nil {
		disputes = []*models.Dispute{}
	}
	writeJSON(w, http.StatusOK, disputes)
}

// RunSweep handles POST /v1/sweep: an on-demand auto-release pass for
// external cron. The periodic job runs the same sweep.
func (h *TaskHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if p := principal(w, r); p == nil {
		return
	}
	result, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
