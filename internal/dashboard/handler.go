package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/fees"
	"github.com/gigpay/backend/internal/ledger"
	"github.com/gigpay/backend/internal/middleware"
	"github.com/gigpay/backend/internal/models"
)

type Handler struct {
	svc      *Service
	schedule fees.Schedule
	log      *slog.Logger
}

func NewHandler(svc *Service, schedule fees.Schedule, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, schedule: schedule, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /v1/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	wallet, err := h.svc.Wallet(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"wallet not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get wallet failed", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GET /v1/wallet/events
func (h *Handler) ListWalletEvents(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	events, err := h.svc.Events(r.Context(), p.ID)
	if err != nil {
		h.log.Error("list wallet events failed", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*models.WalletEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type moveFundsRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type moveFundsResponse struct {
	BalanceBefore int64               `json:"balance_before_cents"`
	BalanceAfter  int64               `json:"balance_after_cents"`
	Event         *models.WalletEvent `json:"event"`
}

// POST /v1/wallet/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, h.svc.Deposit)
}

// POST /v1/wallet/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, h.svc.Withdraw)
}

func (h *Handler) moveFunds(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID, int64) (*ledger.Mutation, error)) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req moveFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	mut, err := apply(r.Context(), p.ID, req.AmountCents)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			http.Error(w, `{"error":"amount_cents must be positive"}`, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			http.Error(w, `{"error":"insufficient funds"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("wallet mutation failed", "user_id", p.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, moveFundsResponse{
		BalanceBefore: mut.BalanceBefore,
		BalanceAfter:  mut.BalanceAfter,
		Event:         mut.Event,
	})
}

// GET /v1/fees/preview?gross_cents=50000[&completed_tasks=5]
//
// When completed_tasks is omitted the caller's own count is used, so a doer
// sees the fee they would actually pay.
func (h *Handler) FeePreview(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	gross, err := strconv.ParseInt(r.URL.Query().Get("gross_cents"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"gross_cents must be an integer"}`, http.StatusBadRequest)
		return
	}

	completed := 0
	if raw := r.URL.Query().Get("completed_tasks"); raw != "" {
		completed, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, `{"error":"completed_tasks must be an integer"}`, http.StatusBadRequest)
			return
		}
	} else {
		wallet, err := h.svc.Wallet(r.Context(), p.ID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			h.log.Error("fee preview wallet lookup failed", "user_id", p.ID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if wallet != nil {
			completed = wallet.CompletedTasks
		}
	}

	breakdown, err := h.schedule.Compute(gross, completed)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}
