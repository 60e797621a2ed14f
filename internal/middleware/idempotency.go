package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/gigpay/backend/internal/models"
)

// IdempotencyHeader carries the caller-supplied key on mutating requests.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore is the record store behind the guard.
type IdempotencyStore interface {
	Get(ctx context.Context, callerID uuid.UUID, endpoint, key string) (*models.IdempotencyRecord, error)
	Insert(ctx context.Context, rec *models.IdempotencyRecord) error
}

// Idempotency deduplicates mutating requests by caller-supplied key, scoped
// per (caller, endpoint). A retried identical request replays the exact prior
// response without re-executing side effects; the same key with a different
// body is a 409. The response is recorded only after the wrapped handler
// succeeds, so a failed attempt does not poison the key. A success is
// buffered and released to the caller only once its record is written: if the
// write fails the caller gets a 500, never a success the guard cannot replay.
// Every financial mutation requires a key; its absence is a client error.
func Idempotency(store IdempotencyStore, endpoint string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				http.Error(w, `{"error":"Idempotency-Key header is required"}`, http.StatusBadRequest)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			hash := hashBody(bodyBytes)
			prior, err := store.Get(r.Context(), p.ID, endpoint, key)
			if err != nil {
				http.Error(w, `{"error":"idempotency check failed"}`, http.StatusInternalServerError)
				return
			}
			if prior != nil {
				if prior.RequestHash != hash {
					http.Error(w, `{"error":"idempotency key reused with a different payload"}`, http.StatusConflict)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(prior.ResponseStatus)
				_, _ = w.Write(prior.ResponseBody)
				return
			}

			rec := newResponseRecorder()
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				err := store.Insert(r.Context(), &models.IdempotencyRecord{
					ID:             uuid.New(),
					CallerID:       p.ID,
					Endpoint:       endpoint,
					Key:            key,
					RequestHash:    hash,
					ResponseStatus: rec.status,
					ResponseBody:   rec.body.Bytes(),
				})
				if err != nil {
					log.Error("idempotency record write failed",
						"endpoint", endpoint,
						"caller_id", p.ID,
						"error", err)
					http.Error(w, `{"error":"request could not be recorded for replay"}`, http.StatusInternalServerError)
					return
				}
			}
			rec.flush(w)
		})
	}
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// responseRecorder buffers the wrapped handler's response so a successful
// outcome can be stored before anything reaches the caller.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *responseRecorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range r.header {
		dst[k] = vv
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
