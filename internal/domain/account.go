package domain

import "time"

// AccountStatus tracks how far a user's connected merchant account has
// progressed through processor onboarding.
type AccountStatus string

const (
	// StatusNone means no external account has been provisioned yet.
	StatusNone AccountStatus = "none"
	// StatusPending means the account exists but onboarding is incomplete.
	StatusPending AccountStatus = "pending"
	// StatusComplete means the processor has verified the account and
	// enabled charges.
	StatusComplete AccountStatus = "complete"
	// StatusDisconnected means the user deauthorized the account at the
	// processor. Terminal until the user provisions a fresh account.
	StatusDisconnected AccountStatus = "disconnected"
)

// AccountRecord is the per-user ledger entry. ExternalAccountID is empty
// when no account is provisioned; Status is StatusNone exactly in that case
// (disconnection clears the id and parks the record at StatusDisconnected).
// UpdatedAt is assigned by the store on every write, never by callers.
type AccountRecord struct {
	UserID            string
	ExternalAccountID string
	Status            AccountStatus
	UpdatedAt         time.Time
}

// Provisioned reports whether the record references a live external account.
func (r AccountRecord) Provisioned() bool {
	return r.ExternalAccountID != ""
}

// AccountSnapshot is the processor's current view of an external account's
// verification flags.
type AccountSnapshot struct {
	DetailsSubmitted bool
	ChargesEnabled   bool
}

// StatusFromSnapshot maps a processor snapshot to a ledger status. This is
// the single reconciliation rule shared by the status poller and the event
// reconciler; every path that observes a snapshot must go through it so the
// two can never disagree. Disconnection is not derivable from a snapshot and
// is handled by the deauthorization event alone.
func StatusFromSnapshot(s AccountSnapshot) AccountStatus {
	if s.DetailsSubmitted && s.ChargesEnabled {
		return StatusComplete
	}
	return StatusPending
}
