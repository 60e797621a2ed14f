package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gigpay/backend/internal/ledger"
	"github.com/gigpay/backend/internal/middleware"
	"github.com/gigpay/backend/internal/models"
	"github.com/gigpay/backend/internal/services"
	"github.com/gigpay/backend/internal/sweep"
)

// mockLifecycle scripts each operation with a function field. Unset fields
// panic, which keeps tests honest about what they exercise.
type mockLifecycle struct {
	create  func(ctx context.Context, posterID uuid.UUID, title, description string, rewardCents int64, deadline *time.Time) (*models.Task, *models.EscrowTransaction, error)
	accept  func(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	start   func(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	submit  func(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error)
	approve func(ctx context.Context, taskID, posterID uuid.UUID) (*services.ReleaseResult, error)
	dispute func(ctx context.Context, taskID, raisedBy uuid.UUID, reason string) (*models.Dispute, error)
	cancel  func(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error)
	getTask func(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	getEscr func(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error)
}

func (m *mockLifecycle) Create(ctx context.Context, posterID uuid.UUID, title, description string, rewardCents int64, deadline *time.Time) (*models.Task, *models.EscrowTransaction, error) {
	return m.create(ctx, posterID, title, description, rewardCents, deadline)
}
func (m *mockLifecycle) Accept(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	return m.accept(ctx, taskID, doerID)
}
func (m *mockLifecycle) Start(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	return m.start(ctx, taskID, doerID)
}
func (m *mockLifecycle) Submit(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	return m.submit(ctx, taskID, doerID)
}
func (m *mockLifecycle) Approve(ctx context.Context, taskID, posterID uuid.UUID) (*services.ReleaseResult, error) {
	return m.approve(ctx, taskID, posterID)
}
func (m *mockLifecycle) Dispute(ctx context.Context, taskID, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
	return m.dispute(ctx, taskID, raisedBy, reason)
}
func (m *mockLifecycle) Cancel(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	return m.cancel(ctx, taskID, posterID)
}
func (m *mockLifecycle) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return m.getTask(ctx, taskID)
}
func (m *mockLifecycle) GetEscrow(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	return m.getEscr(ctx, taskID)
}

type mockResolver struct {
	resolve func(ctx context.Context, disputeID uuid.UUID, outcome string, doerRatio float64, resolvedBy uuid.UUID) (*services.Resolution, error)
}

func (m *mockResolver) Resolve(ctx context.Context, disputeID uuid.UUID, outcome string, doerRatio float64, resolvedBy uuid.UUID) (*services.Resolution, error) {
	return m.resolve(ctx, disputeID, outcome, doerRatio, resolvedBy)
}

type mockSweeper struct {
	result *sweep.Result
	err    error
}

func (m *mockSweeper) Sweep(context.Context) (*sweep.Result, error) { return m.result, m.err }

type mockLister struct {
	open     []*models.Task
	posted   []*models.Task
	assigned []*models.Task
}

func (m *mockLister) ListOpen(context.Context) ([]*models.Task, error) { return m.open, nil }
func (m *mockLister) ListByPosterID(context.Context, uuid.UUID) ([]*models.Task, error) {
	return m.posted, nil
}
func (m *mockLister) ListByDoerID(context.Context, uuid.UUID) ([]*models.Task, error) {
	return m.assigned, nil
}

type mockDisputeLister struct {
	open []*models.Dispute
}

func (m *mockDisputeLister) ListOpen(context.Context) ([]*models.Dispute, error) {
	return m.open, nil
}

func newTestHandler(t *testing.T, lc *mockLifecycle) *TaskHandler {
	t.Helper()
	v, err := services.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return &TaskHandler{
		Lifecycle: lc,
		Resolver:  &mockResolver{},
		Sweeper:   &mockSweeper{},
		Tasks:     &mockLister{},
		Disputes:  &mockDisputeLister{},
		Validator: v,
		Logger:    slog.New(slog.DiscardHandler),
	}
}

func doAs(p *middleware.Principal, fn http.HandlerFunc, method, target, pathID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	if p != nil {
		req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	poster := &middleware.Principal{ID: uuid.New(), Role: models.RolePoster}
	lc := &mockLifecycle{
		create: func(_ context.Context, posterID uuid.UUID, title, _ string, rewardCents int64, _ *time.Time) (*models.Task, *models.EscrowTransaction, error) {
			task := &models.Task{ID: uuid.New(), PosterID: posterID, Title: title, RewardCents: rewardCents, Status: models.TaskStatusOpen}
			escrow := &models.EscrowTransaction{ID: uuid.New(), TaskID: task.ID, GrossCents: rewardCents, Status: models.EscrowStatusHeld}
			return task, escrow, nil
		},
	}
	h := newTestHandler(t, lc)

	rec := doAs(poster, h.CreateTask, http.MethodPost, "/v1/tasks", "", `{"title":"paint fence","reward_cents":50000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var resp taskWithEscrowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Task.Status != models.TaskStatusOpen || resp.Escrow.Status != models.EscrowStatusHeld {
		t.Errorf("response: task %s, escrow %s", resp.Task.Status, resp.Escrow.Status)
	}
}

func TestCreateTask_SchemaViolations(t *testing.T) {
	poster := &middleware.Principal{ID: uuid.New(), Role: models.RolePoster}
	h := newTestHandler(t, &mockLifecycle{})

	for _, body := range []string{
		`{"reward_cents":100}`,                       // missing title
		`{"title":"x"}`,                              // missing reward
		`{"title":"x","reward_cents":0}`,             // non-positive reward
		`{"title":"x","reward_cents":10.5}`,          // fractional cents
		`{"title":"x","reward_cents":100,"bogus":1}`, // unknown field
		`not json`,
	} {
		rec := doAs(poster, h.CreateTask, http.MethodPost, "/v1/tasks", "", body)
		if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 4xx rejection", body, rec.Code)
		}
		if rec.Code == http.StatusCreated {
			t.Errorf("%s: must not create a task", body)
		}
	}
}

func TestCreateTask_InsufficientFunds(t *testing.T) {
	poster := &middleware.Principal{ID: uuid.New(), Role: models.RolePoster}
	lc := &mockLifecycle{
		create: func(context.Context, uuid.UUID, string, string, int64, *time.Time) (*models.Task, *models.EscrowTransaction, error) {
			return nil, nil, ledger.ErrInsufficientFunds
		},
	}
	h := newTestHandler(t, lc)

	rec := doAs(poster, h.CreateTask, http.MethodPost, "/v1/tasks", "", `{"title":"x","reward_cents":100}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", rec.Code)
	}
}

func TestTransitionErrorMapping(t *testing.T) {
	doer := &middleware.Principal{ID: uuid.New(), Role: models.RoleDoer}
	taskID := uuid.New()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"already assigned", services.ErrAlreadyAssigned, http.StatusConflict},
		{"invalid state", &services.InvalidStateError{From: models.TaskStatusAccepted, To: models.TaskStatusSubmitted}, http.StatusConflict},
		{"not authorized", services.ErrNotAuthorized, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lc := &mockLifecycle{
				accept: func(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) { return nil, tc.err },
			}
			h := newTestHandler(t, lc)
			rec := doAs(doer, h.AcceptTask, http.MethodPost, "/v1/tasks/"+taskID.String()+"/accept", taskID.String(), "")
			if rec.Code != tc.want {
				t.Errorf("got %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTransition_InvalidTaskID(t *testing.T) {
	doer := &middleware.Principal{ID: uuid.New(), Role: models.RoleDoer}
	h := newTestHandler(t, &mockLifecycle{})

	rec := doAs(doer, h.StartTask, http.MethodPost, "/v1/tasks/not-a-uuid/start", "not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestTransition_Unauthenticated(t *testing.T) {
	h := newTestHandler(t, &mockLifecycle{})
	taskID := uuid.New()
	rec := doAs(nil, h.SubmitTask, http.MethodPost, "/v1/tasks/"+taskID.String()+"/submit", taskID.String(), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got %d, want 401", rec.Code)
	}
}

func TestApproveTask(t *testing.T) {
	poster := &middleware.Principal{ID: uuid.New(), Role: models.RolePoster}
	taskID := uuid.New()
	lc := &mockLifecycle{
		approve: func(_ context.Context, id, _ uuid.UUID) (*services.ReleaseResult, error) {
			return &services.ReleaseResult{TaskID: id, PayoutCents: 45_000, FeeCents: 5_000}, nil
		},
	}
	h := newTestHandler(t, lc)

	rec := doAs(poster, h.ApproveTask, http.MethodPost, "/v1/tasks/"+taskID.String()+"/approve", taskID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var result services.ReleaseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.PayoutCents != 45_000 || result.Skipped {
		t.Errorf("result: %+v", result)
	}
}

func TestDisputeTask(t *testing.T) {
	doer := &middleware.Principal{ID: uuid.New(), Role: models.RoleDoer}
	taskID := uuid.New()
	lc := &mockLifecycle{
		dispute: func(_ context.Context, id, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
			return &models.Dispute{ID: uuid.New(), TaskID: id, RaisedBy: raisedBy, Reason: reason, Status: models.DisputeStatusOpen}, nil
		},
	}
	h := newTestHandler(t, lc)

	rec := doAs(doer, h.DisputeTask, http.MethodPost, "/v1/tasks/"+taskID.String()+"/dispute", taskID.String(), `{"reason":"work not as described"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var d models.Dispute
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Status != models.DisputeStatusOpen || d.Reason != "work not as described" {
		t.Errorf("dispute: %+v", d)
	}
}

func TestResolveDispute(t *testing.T) {
	admin := &middleware.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	disputeID := uuid.New()

	t.Run("split resolution", func(t *testing.T) {
		h := newTestHandler(t, &mockLifecycle{})
		h.Resolver = &mockResolver{
			resolve: func(_ context.Context, _ uuid.UUID, outcome string, ratio float64, _ uuid.UUID) (*services.Resolution, error) {
				if outcome != models.DisputeOutcomeSplit || ratio != 0.5 {
					t.Errorf("resolve called with outcome=%q ratio=%v", outcome, ratio)
				}
				return &services.Resolution{Outcome: outcome, DoerAmountCents: 5_000, PosterAmountCents: 5_001}, nil
			},
		}
		rec := doAs(admin, h.ResolveDispute, http.MethodPost, "/v1/disputes/"+disputeID.String()+"/resolve", disputeID.String(), `{"outcome":"split","doer_ratio":0.5}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("already resolved", func(t *testing.T) {
		h := newTestHandler(t, &mockLifecycle{})
		h.Resolver = &mockResolver{
			resolve: func(context.Context, uuid.UUID, string, float64, uuid.UUID) (*services.Resolution, error) {
				return nil, services.ErrAlreadyResolved
			},
		}
		rec := doAs(admin, h.ResolveDispute, http.MethodPost, "/v1/disputes/"+disputeID.String()+"/resolve", disputeID.String(), `{"outcome":"approve"}`)
		if rec.Code != http.StatusConflict {
			t.Errorf("got %d, want 409", rec.Code)
		}
	})
}

func TestListOpenDisputes(t *testing.T) {
	admin := &middleware.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	h := newTestHandler(t, &mockLifecycle{})
	h.Disputes = &mockDisputeLister{open: []*models.Dispute{
		{ID: uuid.New(), Status: models.DisputeStatusOpen},
	}}

	rec := doAs(admin, h.ListOpenDisputes, http.MethodGet, "/v1/disputes", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var disputes []*models.Dispute
	if err := json.Unmarshal(rec.Body.Bytes(), &disputes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(disputes) != 1 {
		t.Errorf("got %d disputes, want 1", len(disputes))
	}

	h.Disputes = &mockDisputeLister{}
	rec = doAs(admin, h.ListOpenDisputes, http.MethodGet, "/v1/disputes", "", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty queue must encode as [], got %s", got)
	}
}

func TestRunSweep(t *testing.T) {
	admin := &middleware.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	h := newTestHandler(t, &mockLifecycle{})
	h.Sweeper = &mockSweeper{result: &sweep.Result{Processed: 2, Released: 1, Skipped: 1}}

	rec := doAs(admin, h.RunSweep, http.MethodPost, "/v1/sweep", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var result sweep.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Processed != 2 || result.Released != 1 {
		t.Errorf("result: %+v", result)
	}
}

func TestListTasks(t *testing.T) {
	user := &middleware.Principal{ID: uuid.New(), Role: models.RoleDoer}
	h := newTestHandler(t, &mockLifecycle{})
	h.Tasks = &mockLister{
		open:     []*models.Task{{ID: uuid.New()}, {ID: uuid.New()}},
		assigned: []*models.Task{{ID: uuid.New()}},
	}

	for _, tc := range []struct {
		target string
		want   int
	}{
		{"/v1/tasks", 2},
		{"/v1/tasks?view=open", 2},
		{"/v1/tasks?view=assigned", 1},
		{"/v1/tasks?view=posted", 0},
	} {
		rec := doAs(user, h.ListTasks, http.MethodGet, tc.target, "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d", tc.target, rec.Code)
		}
		var tasks []*models.Task
		if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("%s: decode: %v", tc.target, err)
		}
		if len(tasks) != tc.want {
			t.Errorf("%s: got %d tasks, want %d", tc.target, len(tasks), tc.want)
		}
	}

	rec := doAs(user, h.ListTasks, http.MethodGet, "/v1/tasks?view=bogus", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus view: got %d, want 400", rec.Code)
	}
}
