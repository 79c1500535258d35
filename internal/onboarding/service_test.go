package onboarding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"connect-gateway/internal/audit"
	"connect-gateway/internal/domain"
	"connect-gateway/internal/onboarding/lock"
	"connect-gateway/internal/onboarding/mocks"
	"connect-gateway/internal/processor"
	dErrors "connect-gateway/pkg/domain-errors"
)

type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Emit(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAudit) Close() error { return nil }

func (c *captureAudit) byAction(action string) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, client processor.Client) (*Service, *MemoryStore, *captureAudit) {
	t.Helper()
	store := NewMemoryStore()
	sink := &captureAudit{}
	svc := NewService(store, client, lock.NewMemoryLocker(), sink, nil, testLogger())
	return svc, store, sink
}

func TestProvision_NewUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, sink := newTestService(t, client)
	ctx := context.Background()

	client.EXPECT().
		CreateAccount(gomock.Any(), "seller@example.com").
		Return(processor.Account{ID: "acct_1", Email: "seller@example.com"}, nil).
		Times(1)
	client.EXPECT().
		CreateAccountLink(gomock.Any(), "acct_1").
		Return(processor.AccountLink{URL: "https://connect.processor.example/setup/acct_1"}, nil).
		Times(1)

	url, err := svc.Provision(ctx, "user-1", "seller@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://connect.processor.example/setup/acct_1", url)

	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", record.ExternalAccountID)
	assert.Equal(t, domain.StatusPending, record.Status)

	require.Len(t, sink.byAction(audit.ActionAccountProvisioned), 1)
}

func TestProvision_AlreadyProvisionedIssuesLinkOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)

	// No CreateAccount expectation: a second account must never be created.
	client.EXPECT().
		CreateAccountLink(gomock.Any(), "acct_1").
		Return(processor.AccountLink{URL: "https://connect.processor.example/setup/acct_1"}, nil).
		Times(2)

	for i := 0; i < 2; i++ {
		url, err := svc.Provision(ctx, "user-1", "seller@example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, url)
	}
}

func TestProvision_RequiresIdentityAndEmail(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.Provision(ctx, "", "seller@example.com")
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthenticated))

	_, err = svc.Provision(ctx, "user-1", "not-an-email")
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthenticated))

	// Neither attempt may touch the ledger or the processor.
	_, err = store.FindByUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvision_AccountCreationFailureLeavesNoRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, _ := newTestService(t, client)
	ctx := context.Background()

	client.EXPECT().
		CreateAccount(gomock.Any(), "seller@example.com").
		Return(processor.Account{}, dErrors.New(dErrors.CodeUpstream, "processor unavailable")).
		Times(1)

	_, err := svc.Provision(ctx, "user-1", "seller@example.com")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUpstream))

	_, err = store.FindByUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The retry re-enters the check, finds no account, and succeeds.
	client.EXPECT().
		CreateAccount(gomock.Any(), "seller@example.com").
		Return(processor.Account{ID: "acct_2"}, nil).
		Times(1)
	client.EXPECT().
		CreateAccountLink(gomock.Any(), "acct_2").
		Return(processor.AccountLink{URL: "https://connect.processor.example/setup/acct_2"}, nil).
		Times(1)

	url, err := svc.Provision(ctx, "user-1", "seller@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}

func TestProvision_LinkFailureRecordsOrphan(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, sink := newTestService(t, client)
	ctx := context.Background()

	client.EXPECT().
		CreateAccount(gomock.Any(), "seller@example.com").
		Return(processor.Account{ID: "acct_1"}, nil).
		Times(1)
	client.EXPECT().
		CreateAccountLink(gomock.Any(), "acct_1").
		Return(processor.AccountLink{}, dErrors.New(dErrors.CodeUpstream, "link service down")).
		Times(1)

	_, err := svc.Provision(ctx, "user-1", "seller@example.com")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUpstream))

	// No partial-success state in the ledger; the orphan is on the audit
	// trail for out-of-band cleanup.
	_, err = store.FindByUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	orphans := sink.byAction(audit.ActionAccountOrphaned)
	require.Len(t, orphans, 1)
	assert.Equal(t, "acct_1", orphans[0].ExternalAccountID)
}

// countingClient fakes the processor for concurrency tests where gomock
// call ordering would be nondeterministic.
type countingClient struct {
	created atomic.Int64
	links   atomic.Int64
}

func (c *countingClient) CreateAccount(_ context.Context, _ string) (processor.Account, error) {
	n := c.created.Add(1)
	return processor.Account{ID: fmt.Sprintf("acct_%d", n)}, nil
}

func (c *countingClient) CreateAccountLink(_ context.Context, accountID string) (processor.AccountLink, error) {
	c.links.Add(1)
	return processor.AccountLink{URL: "https://connect.processor.example/setup/" + accountID}, nil
}

func (c *countingClient) GetAccount(_ context.Context, accountID string) (processor.Account, error) {
	return processor.Account{ID: accountID}, nil
}

func TestProvision_ConcurrentCallsCreateOneAccount(t *testing.T) {
	client := &countingClient{}
	svc, store, _ := newTestService(t, client)
	ctx := context.Background()

	const callers = 25
	var wg sync.WaitGroup
	urls := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			urls[n], errs[n] = svc.Provision(ctx, "user-1", "seller@example.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, urls[i])
	}

	assert.Equal(t, int64(1), client.created.Load(), "exactly one external account may be created")

	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", record.ExternalAccountID)
}

func TestStatus_NoAccountShortCircuits(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, _, _ := newTestService(t, client)

	// No GetAccount expectation: the processor must not be contacted.
	result, err := svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, result.AccountID)
	assert.Equal(t, domain.StatusNone, result.Status)
}

func TestStatus_PollResynchronizesLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, sink := newTestService(t, client)
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)

	client.EXPECT().
		GetAccount(gomock.Any(), "acct_1").
		Return(processor.Account{ID: "acct_1", DetailsSubmitted: true, ChargesEnabled: true}, nil).
		Times(1)

	result, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", result.AccountID)
	assert.Equal(t, domain.StatusComplete, result.Status)

	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, record.Status)

	require.Len(t, sink.byAction(audit.ActionStatusChanged), 1)
}

func TestStatus_UpstreamFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	svc, store, _ := newTestService(t, client)
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)

	client.EXPECT().
		GetAccount(gomock.Any(), "acct_1").
		Return(processor.Account{}, dErrors.New(dErrors.CodeUpstream, "processor timeout")).
		Times(1)

	_, err = svc.Status(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUpstream))

	// The ledger keeps its last known status on a failed poll.
	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, record.Status)
}

func accountUpdatedEvent(accountID string, complete bool) processor.Event {
	return processor.Event{
		ID:   "evt_1",
		Kind: processor.EventAccountUpdated,
		Account: processor.EventAccount{
			ID:               accountID,
			DetailsSubmitted: complete,
			ChargesEnabled:   complete,
		},
	}
}

func TestApplyEvent_UpdatedReconcilesMatchingRecordOnly(t *testing.T) {
	svc, store, _ := newTestService(t, &countingClient{})
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)
	_, err = store.AttachExternalAccount(ctx, "user-2", "acct_2")
	require.NoError(t, err)

	require.NoError(t, svc.ApplyEvent(ctx, accountUpdatedEvent("acct_1", true)))

	updated, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, updated.Status)

	untouched, err := store.FindByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, untouched.Status)
}

func TestApplyEvent_RedeliveryConverges(t *testing.T) {
	svc, store, _ := newTestService(t, &countingClient{})
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)

	event := accountUpdatedEvent("acct_1", true)
	require.NoError(t, svc.ApplyEvent(ctx, event))
	after1, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.ApplyEvent(ctx, event))
	after2, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, after1.Status, after2.Status)
	assert.Equal(t, after1.ExternalAccountID, after2.ExternalAccountID)
}

func TestApplyEvent_UnknownAccountAcknowledged(t *testing.T) {
	svc, _, _ := newTestService(t, &countingClient{})

	err := svc.ApplyEvent(context.Background(), accountUpdatedEvent("acct_ghost", true))
	assert.NoError(t, err)
}

func TestApplyEvent_DeauthorizedClearsAccount(t *testing.T) {
	client := &countingClient{}
	svc, store, sink := newTestService(t, client)
	ctx := context.Background()

	_, err := svc.Provision(ctx, "user-1", "seller@example.com")
	require.NoError(t, err)
	first, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)

	err = svc.ApplyEvent(ctx, processor.Event{
		ID:      "evt_deauth",
		Kind:    processor.EventAccountDeauthorized,
		Account: processor.EventAccount{ID: first.ExternalAccountID},
	})
	require.NoError(t, err)

	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, record.Status)
	assert.Empty(t, record.ExternalAccountID)
	require.Len(t, sink.byAction(audit.ActionAccountDisconnected), 1)

	// Re-provisioning allocates a fresh account, never reuses the old id.
	_, err = svc.Provision(ctx, "user-1", "seller@example.com")
	require.NoError(t, err)
	record, err = store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, record.ExternalAccountID)
	assert.NotEqual(t, first.ExternalAccountID, record.ExternalAccountID)
	assert.Equal(t, domain.StatusPending, record.Status)
}

func TestApplyEvent_UnknownKindIsNoOp(t *testing.T) {
	svc, store, _ := newTestService(t, &countingClient{})
	ctx := context.Background()

	_, err := store.AttachExternalAccount(ctx, "user-1", "acct_1")
	require.NoError(t, err)

	err = svc.ApplyEvent(ctx, processor.Event{ID: "evt_x", Kind: "payout.created"})
	require.NoError(t, err)

	record, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, record.Status)
}
