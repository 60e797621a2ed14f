package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gigpay/backend/internal/dashboard"
	"github.com/gigpay/backend/internal/handlers"
	"github.com/gigpay/backend/internal/middleware"
	"github.com/gigpay/backend/internal/models"
)

// Per-operation rate limits. Creation and acceptance are the abuse surfaces;
// reads are unlimited.
var (
	createTaskLimit = middleware.Limit{MaxRequests: 30, Window: time.Hour}
	acceptTaskLimit = middleware.Limit{MaxRequests: 60, Window: time.Hour}
)

// RegisterV1Routes mounts the authenticated task and wallet API. Chain order
// is Authenticate -> RateLimit -> Idempotency -> handler: a rate-limited
// request must not consume its idempotency key, and every money-moving POST
// requires one.
func RegisterV1Routes(
	mux *http.ServeMux,
	authn func(http.Handler) http.Handler,
	idemStore middleware.IdempotencyStore,
	limitStore middleware.RateLimitStore,
	th *handlers.TaskHandler,
	dh *dashboard.Handler,
	log *slog.Logger,
) {
	idem := func(endpoint string) func(http.Handler) http.Handler {
		return middleware.Idempotency(idemStore, endpoint, log)
	}
	limiter := middleware.NewLimiter(limitStore)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	handle := func(pattern string, h http.Handler, mw ...func(http.Handler) http.Handler) {
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		mux.Handle(pattern, authn(h))
	}

	// Task lifecycle.
	handle("POST /v1/tasks", http.HandlerFunc(th.CreateTask),
		limiter.RateLimit("create_task", createTaskLimit),
		idem("POST /v1/tasks"))
	handle("GET /v1/tasks", http.HandlerFunc(th.ListTasks))
	handle("GET /v1/tasks/{id}", http.HandlerFunc(th.GetTask))
	handle("POST /v1/tasks/{id}/accept", http.HandlerFunc(th.AcceptTask),
		limiter.RateLimit("accept_task", acceptTaskLimit))
	handle("POST /v1/tasks/{id}/start", http.HandlerFunc(th.StartTask))
	handle("POST /v1/tasks/{id}/submit", http.HandlerFunc(th.SubmitTask))
	handle("POST /v1/tasks/{id}/approve", http.HandlerFunc(th.ApproveTask),
		idem("POST /v1/tasks/{id}/approve"))
	handle("POST /v1/tasks/{id}/dispute", http.HandlerFunc(th.DisputeTask))
	handle("POST /v1/tasks/{id}/cancel", http.HandlerFunc(th.CancelTask),
		idem("POST /v1/tasks/{id}/cancel"))

	// Adjudication and operations.
	handle("GET /v1/disputes", http.HandlerFunc(th.ListOpenDisputes), adminOnly)
	handle("POST /v1/disputes/{id}/resolve", http.HandlerFunc(th.ResolveDispute),
		adminOnly, idem("POST /v1/disputes/{id}/resolve"))
	handle("POST /v1/sweep", http.HandlerFunc(th.RunSweep), adminOnly)

	// Wallet.
	handle("GET /v1/wallet", http.HandlerFunc(dh.GetWallet))
	handle("GET /v1/wallet/events", http.HandlerFunc(dh.ListWalletEvents))
	handle("POST /v1/wallet/deposit", http.HandlerFunc(dh.Deposit),
		idem("POST /v1/wallet/deposit"))
	handle("POST /v1/wallet/withdraw", http.HandlerFunc(dh.Withdraw),
		idem("POST /v1/wallet/withdraw"))
	handle("GET /v1/fees/preview", http.HandlerFunc(dh.FeePreview))
}
