package audit

import "time"

// Actions recorded by the gateway. OrphanedAccount is the hook for
// reconciling processor accounts that were created but never attached to the
// ledger; an out-of-band job consumes these to clean up.
const (
	ActionAccountProvisioned  = "account.provisioned"
	ActionAccountOrphaned     = "account.orphaned"
	ActionStatusChanged       = "status.changed"
	ActionAccountDisconnected = "account.disconnected"
)

// Event is one audit trail entry.
type Event struct {
	ID                string    `json:"id"`
	Action            string    `json:"action"`
	UserID            string    `json:"user_id,omitempty"`
	ExternalAccountID string    `json:"external_account_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	Detail            string    `json:"detail,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
