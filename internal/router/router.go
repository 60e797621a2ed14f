package router

import (
	"net/http"

	"github.com/gigpay/backend/internal/auth"
)

// New returns the handler for the unauthenticated account surface under
// /api/v1. The authenticated task and wallet API lives under /v1 and is
// registered separately with its middleware chain.
func New(authHandler *auth.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	return mux
}
