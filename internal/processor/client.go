// Package processor integrates with the third-party payment processor: a
// typed REST client for account provisioning and status queries, and
// verification of the signed push events the processor delivers.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"connect-gateway/internal/domain"
)

// Account is the processor's representation of a connected merchant account,
// reduced to what the ledger cares about.
type Account struct {
	ID               string
	Email            string
	DetailsSubmitted bool
	ChargesEnabled   bool
}

// Snapshot extracts the verification flags the reconciliation rule consumes.
func (a Account) Snapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		DetailsSubmitted: a.DetailsSubmitted,
		ChargesEnabled:   a.ChargesEnabled,
	}
}

// AccountLink is a short-lived onboarding URL for a connected account.
type AccountLink struct {
	URL       string
	ExpiresAt time.Time
}

//go:generate mockgen -destination=../onboarding/mocks/processor_mocks.go -package=mocks connect-gateway/internal/processor Client

// Client is the outbound surface to the processor. Implementations must be
// safe for concurrent use.
type Client interface {
	// CreateAccount provisions a new express connected account for the
	// given email with the transfers capability requested.
	CreateAccount(ctx context.Context, email string) (Account, error)
	// CreateAccountLink issues a fresh onboarding link for an existing
	// account. Always safe to call again; each call returns a new URL.
	CreateAccountLink(ctx context.Context, accountID string) (AccountLink, error)
	// GetAccount fetches the authoritative snapshot for an account.
	GetAccount(ctx context.Context, accountID string) (Account, error)
}

// MockClient serves dev mode and tests with deterministic data and a
// configurable latency to mimic real-world calls.
type MockClient struct {
	Latency time.Duration
	// Complete controls the flags GetAccount reports.
	Complete bool

	seq atomic.Int64
}

func (c *MockClient) CreateAccount(_ context.Context, email string) (Account, error) {
	time.Sleep(c.Latency)
	return Account{
		ID:    fmt.Sprintf("acct_mock_%d", c.seq.Add(1)),
		Email: email,
	}, nil
}

func (c *MockClient) CreateAccountLink(_ context.Context, accountID string) (AccountLink, error) {
	time.Sleep(c.Latency)
	return AccountLink{
		URL:       "https://connect.processor.example/setup/" + accountID,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil
}

func (c *MockClient) GetAccount(_ context.Context, accountID string) (Account, error) {
	time.Sleep(c.Latency)
	return Account{
		ID:               accountID,
		DetailsSubmitted: c.Complete,
		ChargesEnabled:   c.Complete,
	}, nil
}
