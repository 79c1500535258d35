package onboarding

import (
	"context"
	"errors"

	"connect-gateway/internal/domain"
)

// Sentinel errors for store facts. Services translate these into coded
// domain errors at the boundary.
var (
	// ErrNotFound means no ledger record matched the lookup.
	ErrNotFound = errors.New("account record not found")
	// ErrAlreadyProvisioned means the conditional attach lost: the record
	// already references an external account.
	ErrAlreadyProvisioned = errors.New("external account already attached")
)

// Store is the account ledger: one record per user, addressable by user id
// and by external account id (the event reconciler's reverse lookup).
// Implementations assign UpdatedAt themselves on every write so poll/push
// races resolve by server time, never caller time.
type Store interface {
	FindByUser(ctx context.Context, userID string) (domain.AccountRecord, error)
	FindByExternalAccount(ctx context.Context, externalAccountID string) (domain.AccountRecord, error)

	// AttachExternalAccount creates or claims the user's record, setting
	// the external account id and status pending in one atomic step. It is
	// conditional on no external account being attached yet; a concurrent
	// winner makes the loser return ErrAlreadyProvisioned.
	AttachExternalAccount(ctx context.Context, userID, externalAccountID string) (domain.AccountRecord, error)

	// UpdateStatus writes a poll-derived status. It is conditional on the
	// record still referencing externalAccountID, so a disconnection that
	// raced the poll cannot be resurrected by a stale snapshot.
	UpdateStatus(ctx context.Context, userID, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error)

	// UpdateStatusByExternalAccount writes an event-derived status via the
	// reverse lookup.
	UpdateStatusByExternalAccount(ctx context.Context, externalAccountID string, status domain.AccountStatus) (domain.AccountRecord, error)

	// Disconnect clears the external account id and parks the record at
	// disconnected. The record survives; disconnection is a status, not a
	// deletion.
	Disconnect(ctx context.Context, externalAccountID string) (domain.AccountRecord, error)
}
