// Package onboarding owns the account ledger and the status reconciliation
// protocol: provisioning a connected account per user, issuing onboarding
// links, and converging the ledger with the processor's view via polls and
// push events.
package onboarding

import (
	"context"
	"errors"
	"log/slog"

	"github.com/asaskevich/govalidator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"connect-gateway/internal/audit"
	"connect-gateway/internal/domain"
	"connect-gateway/internal/onboarding/lock"
	"connect-gateway/internal/platform/metrics"
	"connect-gateway/internal/processor"
	dErrors "connect-gateway/pkg/domain-errors"
)

// StatusResult is what a status poll reports back to the caller. AccountID
// is empty when no external account is attached.
type StatusResult struct {
	AccountID string
	Status    domain.AccountStatus
}

// Service orchestrates provisioning, polling, and event reconciliation
// against the ledger. All status writes flow through
// domain.StatusFromSnapshot so the poll and push paths can never disagree.
type Service struct {
	store     Store
	processor processor.Client
	locker    lock.Locker
	audit     audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	// group collapses concurrent in-process provisioning calls per user;
	// the locker extends the exclusion across instances and the store's
	// conditional attach is the final arbiter.
	group singleflight.Group
}

func NewService(
	store Store,
	processorClient processor.Client,
	locker lock.Locker,
	auditPublisher audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		processor: processorClient,
		locker:    locker,
		audit:     auditPublisher,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("connect-gateway/onboarding"),
	}
}

// Provision returns an onboarding URL for the user, creating an external
// account first if none is attached. Calling it again for an already
// provisioned user is not an error; it just issues a fresh link.
func (s *Service) Provision(ctx context.Context, userID, email string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "onboarding.provision")
	defer span.End()

	if userID == "" {
		return "", dErrors.New(dErrors.CodeUnauthenticated, "caller identity required")
	}
	if !govalidator.IsEmail(email) {
		return "", dErrors.New(dErrors.CodeUnauthenticated, "verified email required to provision an account")
	}

	// Fast path: already provisioned, only a fresh link is needed.
	record, err := s.store.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", dErrors.Wrap(dErrors.CodeInternal, "load account record", err)
	}
	if err == nil && record.Provisioned() {
		return s.issueLink(ctx, record.ExternalAccountID)
	}

	url, err, _ := s.group.Do(userID, func() (any, error) {
		return s.provisionLocked(ctx, userID, email)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return url.(string), nil
}

// provisionLocked runs the check-then-create sequence under the per-user
// lock. Ordering follows the partial-failure contract: account creation and
// link issuance both precede the ledger write, so a failure in either
// leaves no ledger state behind (at the cost of a possible orphan account
// at the processor, which the audit trail records for out-of-band cleanup).
func (s *Service) provisionLocked(ctx context.Context, userID, email string) (string, error) {
	release, err := s.locker.Acquire(ctx, "provision:"+userID)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "acquire provisioning lock", err)
	}
	defer release()

	// Re-check under the lock: a concurrent call may have provisioned
	// while this one waited.
	record, err := s.store.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", dErrors.Wrap(dErrors.CodeInternal, "load account record", err)
	}
	if err == nil && record.Provisioned() {
		return s.issueLink(ctx, record.ExternalAccountID)
	}

	account, err := s.processor.CreateAccount(ctx, email)
	if err != nil {
		return "", err
	}

	link, err := s.processor.CreateAccountLink(ctx, account.ID)
	if err != nil {
		// The account exists at the processor but will never reach the
		// ledger; a retry provisions a new one.
		s.recordOrphan(ctx, userID, account.ID, "link issuance failed: "+err.Error())
		return "", err
	}

	if _, err := s.store.AttachExternalAccount(ctx, userID, account.ID); err != nil {
		if errors.Is(err, ErrAlreadyProvisioned) {
			// A concurrent writer won the attach. Its account is the
			// canonical one; ours is an orphan.
			s.recordOrphan(ctx, userID, account.ID, "lost provisioning race")
			winner, findErr := s.store.FindByUser(ctx, userID)
			if findErr != nil || !winner.Provisioned() {
				return "", dErrors.New(dErrors.CodeInternal, "account attach conflict left no usable record")
			}
			return s.issueLink(ctx, winner.ExternalAccountID)
		}
		s.recordOrphan(ctx, userID, account.ID, "ledger write failed: "+err.Error())
		return "", dErrors.Wrap(dErrors.CodeInternal, "attach external account", err)
	}

	s.metrics.IncProvisioned()
	s.audit.Emit(ctx, audit.Event{
		Action:            audit.ActionAccountProvisioned,
		UserID:            userID,
		ExternalAccountID: account.ID,
		Status:            string(domain.StatusPending),
	})
	s.logger.InfoContext(ctx, "external account provisioned",
		"user_id", userID,
		"external_account_id", account.ID,
	)

	s.metrics.IncLinkIssued()
	return link.URL, nil
}

func (s *Service) issueLink(ctx context.Context, externalAccountID string) (string, error) {
	link, err := s.processor.CreateAccountLink(ctx, externalAccountID)
	if err != nil {
		return "", err
	}
	s.metrics.IncLinkIssued()
	return link.URL, nil
}

// Status reports the user's onboarding status, resynchronizing the ledger
// from the processor when an external account is attached. A user with no
// account short-circuits without any outbound call.
func (s *Service) Status(ctx context.Context, userID string) (StatusResult, error) {
	ctx, span := s.tracer.Start(ctx, "onboarding.status")
	defer span.End()

	if userID == "" {
		return StatusResult{}, dErrors.New(dErrors.CodeUnauthenticated, "caller identity required")
	}

	record, err := s.store.FindByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) || (err == nil && !record.Provisioned()) {
		s.metrics.IncStatusPoll(string(domain.StatusNone))
		return StatusResult{Status: domain.StatusNone}, nil
	}
	if err != nil {
		return StatusResult{}, dErrors.Wrap(dErrors.CodeInternal, "load account record", err)
	}

	account, err := s.processor.GetAccount(ctx, record.ExternalAccountID)
	if err != nil {
		span.RecordError(err)
		return StatusResult{}, err
	}

	status := domain.StatusFromSnapshot(account.Snapshot())
	if _, err := s.store.UpdateStatus(ctx, userID, record.ExternalAccountID, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			// The account was disconnected while the poll was in flight;
			// the stale snapshot must not resurrect it.
			s.logger.InfoContext(ctx, "status write skipped, account no longer attached",
				"user_id", userID,
				"external_account_id", record.ExternalAccountID,
			)
		} else {
			return StatusResult{}, dErrors.Wrap(dErrors.CodeInternal, "write account status", err)
		}
	} else if status != record.Status {
		s.audit.Emit(ctx, audit.Event{
			Action:            audit.ActionStatusChanged,
			UserID:            userID,
			ExternalAccountID: record.ExternalAccountID,
			Status:            string(status),
			Detail:            "status poll",
		})
	}

	s.metrics.IncStatusPoll(string(status))
	return StatusResult{AccountID: record.ExternalAccountID, Status: status}, nil
}

// ApplyEvent reconciles one verified push event into the ledger. It is safe
// under redelivery: reapplying an event converges to the same state. A
// missing record is not an error; the event is acknowledged so the
// processor stops retrying for state that will never exist here.
func (s *Service) ApplyEvent(ctx context.Context, event processor.Event) error {
	ctx, span := s.tracer.Start(ctx, "onboarding.apply_event")
	defer span.End()

	switch event.Kind {
	case processor.EventAccountUpdated:
		status := domain.StatusFromSnapshot(event.Account.Snapshot())
		record, err := s.store.UpdateStatusByExternalAccount(ctx, event.Account.ID, status)
		if errors.Is(err, ErrNotFound) {
			s.metrics.IncWebhookEvent(event.Kind, "unmatched")
			s.logger.InfoContext(ctx, "event for unknown external account acknowledged",
				"event_id", event.ID,
				"external_account_id", event.Account.ID,
			)
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return dErrors.Wrap(dErrors.CodeInternal, "apply account update", err)
		}
		s.metrics.IncWebhookEvent(event.Kind, "applied")
		s.audit.Emit(ctx, audit.Event{
			Action:            audit.ActionStatusChanged,
			UserID:            record.UserID,
			ExternalAccountID: event.Account.ID,
			Status:            string(status),
			Detail:            "push event " + event.ID,
		})
		return nil

	case processor.EventAccountDeauthorized:
		record, err := s.store.Disconnect(ctx, event.Account.ID)
		if errors.Is(err, ErrNotFound) {
			s.metrics.IncWebhookEvent(event.Kind, "unmatched")
			s.logger.InfoContext(ctx, "deauthorization for unknown external account acknowledged",
				"event_id", event.ID,
				"external_account_id", event.Account.ID,
			)
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return dErrors.Wrap(dErrors.CodeInternal, "apply account disconnection", err)
		}
		s.metrics.IncWebhookEvent(event.Kind, "applied")
		s.audit.Emit(ctx, audit.Event{
			Action:            audit.ActionAccountDisconnected,
			UserID:            record.UserID,
			ExternalAccountID: event.Account.ID,
			Status:            string(domain.StatusDisconnected),
			Detail:            "push event " + event.ID,
		})
		return nil

	default:
		// Unknown kinds are acknowledged without a state change so new
		// processor event types never fail delivery.
		s.metrics.IncWebhookEvent(event.Kind, "ignored")
		s.logger.DebugContext(ctx, "unhandled event kind", "kind", event.Kind, "event_id", event.ID)
		return nil
	}
}

func (s *Service) recordOrphan(ctx context.Context, userID, externalAccountID, detail string) {
	s.metrics.IncOrphaned()
	s.audit.Emit(ctx, audit.Event{
		Action:            audit.ActionAccountOrphaned,
		UserID:            userID,
		ExternalAccountID: externalAccountID,
		Detail:            detail,
	})
	s.logger.ErrorContext(ctx, "orphan external account needs out-of-band cleanup",
		"user_id", userID,
		"external_account_id", externalAccountID,
		"detail", detail,
	)
}
