package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connect-gateway/internal/platform/config"
	dErrors "connect-gateway/pkg/domain-errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.Processor{
		BaseURL:    srv.URL,
		APIKey:     "sk_test_key",
		ReturnURL:  "https://app.example.com/payment-setup?success=true",
		RefreshURL: "https://app.example.com/payment-setup?refresh=true",
	}, nil)
}

func TestHTTPClient_CreateAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "express", r.PostForm.Get("type"))
		assert.Equal(t, "seller@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "true", r.PostForm.Get("capabilities[transfers][requested]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct_1","email":"seller@example.com","details_submitted":false,"charges_enabled":false}`))
	})

	account, err := client.CreateAccount(context.Background(), "seller@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", account.ID)
	assert.False(t, account.DetailsSubmitted)
}

func TestHTTPClient_CreateAccountLink(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account_links", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "acct_1", r.PostForm.Get("account"))
		assert.Equal(t, "account_onboarding", r.PostForm.Get("type"))
		assert.Equal(t, "https://app.example.com/payment-setup?refresh=true", r.PostForm.Get("refresh_url"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://connect.processor.example/setup/s_abc","expires_at":1700000300}`))
	})

	link, err := client.CreateAccountLink(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "https://connect.processor.example/setup/s_abc", link.URL)
	assert.Equal(t, int64(1700000300), link.ExpiresAt.Unix())
}

func TestHTTPClient_GetAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/accounts/acct_1", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct_1","details_submitted":true,"charges_enabled":true}`))
	})

	account, err := client.GetAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, account.DetailsSubmitted)
	assert.True(t, account.ChargesEnabled)
}

func TestHTTPClient_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"account cannot accept payments"}}`))
	})

	_, err := client.GetAccount(context.Background(), "acct_1")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUpstream))
	assert.Contains(t, err.Error(), "account cannot accept payments")
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	client := NewHTTPClient(config.Processor{BaseURL: "http://127.0.0.1:1"}, nil)

	_, err := client.GetAccount(context.Background(), "acct_1")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUpstream))
}
