package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"connect-gateway/internal/platform/metrics"
	"connect-gateway/internal/platform/middleware"
	"connect-gateway/internal/processor"
)

// SignatureHeader carries the processor's payload signature.
const SignatureHeader = "Processor-Signature"

// maxEventBytes bounds webhook payload reads.
const maxEventBytes = 1 << 16

// EventReconciler is the slice of the onboarding service the webhook
// endpoint needs.
type EventReconciler interface {
	ApplyEvent(ctx context.Context, event processor.Event) error
}

// WebhookHandler receives push events from the processor. The endpoint is
// unauthenticated by identity; the payload signature is the credential.
type WebhookHandler struct {
	logger     *slog.Logger
	verifier   *processor.WebhookVerifier
	reconciler EventReconciler
	metrics    *metrics.Metrics
}

func NewWebhookHandler(verifier *processor.WebhookVerifier, reconciler EventReconciler, m *metrics.Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{logger: logger, verifier: verifier, reconciler: reconciler, metrics: m}
}

// Register mounts the webhook route. It deliberately skips the auth
// middleware group.
func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/processor", h.handleEvent)
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook body read failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		http.Error(w, "unreadable payload", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.ConstructEvent(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.metrics.IncWebhookEvent("unknown", "rejected")
		// Short text body only; internal detail stays in the logs.
		h.logger.WarnContext(ctx, "webhook rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	// Once the signature verifies, the delivery is acknowledged no matter
	// what: reconciliation is idempotent, a missing record is legitimate
	// (duplicate delivery after local cleanup), and a transient store
	// failure is logged for redelivery-free follow-up rather than bounced.
	if err := h.reconciler.ApplyEvent(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "event reconciliation failed",
			"request_id", middleware.GetRequestID(ctx),
			"event_id", event.ID,
			"event_kind", event.Kind,
			"error", err.Error(),
		)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
