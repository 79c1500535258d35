package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"connect-gateway/internal/onboarding"
	"connect-gateway/internal/platform/middleware"
	dErrors "connect-gateway/pkg/domain-errors"
)

// OnboardingService is the slice of the onboarding service the account
// endpoints need.
type OnboardingService interface {
	Provision(ctx context.Context, userID, email string) (string, error)
	Status(ctx context.Context, userID string) (onboarding.StatusResult, error)
}

// AccountHandler serves the authenticated account endpoints. Identity comes
// exclusively from the auth middleware's context values; request bodies
// carry no identity fields.
type AccountHandler struct {
	logger     *slog.Logger
	onboarding OnboardingService
}

func NewAccountHandler(service OnboardingService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{logger: logger, onboarding: service}
}

// Register mounts the account routes on an authenticated router.
func (h *AccountHandler) Register(r chi.Router) {
	r.Post("/connect/account", h.handleProvision)
	r.Get("/connect/account/status", h.handleStatus)
}

type provisionResponse struct {
	OnboardingURL string `json:"onboarding_url"`
}

func (h *AccountHandler) handleProvision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		// RequireAuth guards this route; an empty id means misconfiguration.
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		writeError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	if !middleware.GetEmailVerified(ctx) {
		writeError(w, dErrors.New(dErrors.CodeUnauthenticated, "verified email required to provision an account"))
		return
	}

	url, err := h.onboarding.Provision(ctx, userID, middleware.GetEmail(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "provisioning failed",
			"request_id", middleware.GetRequestID(ctx),
			"user_id", userID,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, provisionResponse{OnboardingURL: url})
}

type statusResponse struct {
	AccountID *string `json:"account_id"`
	Status    string  `json:"status"`
}

func (h *AccountHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		writeError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	result, err := h.onboarding.Status(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "status poll failed",
			"request_id", middleware.GetRequestID(ctx),
			"user_id", userID,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	resp := statusResponse{Status: string(result.Status)}
	if result.AccountID != "" {
		resp.AccountID = &result.AccountID
	}
	writeJSON(w, http.StatusOK, resp)
}
