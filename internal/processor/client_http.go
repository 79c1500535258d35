package processor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"connect-gateway/internal/platform/config"
	"connect-gateway/internal/platform/metrics"
	dErrors "connect-gateway/pkg/domain-errors"
)

// HTTPClient talks to the processor's REST API. Requests are form-encoded
// with bearer authentication; responses are JSON.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	returnURL  string
	refreshURL string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewHTTPClient builds a client from the processor configuration.
func NewHTTPClient(cfg config.Processor, m *metrics.Metrics) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		returnURL:  cfg.ReturnURL,
		refreshURL: cfg.RefreshURL,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

type accountPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	DetailsSubmitted bool   `json:"details_submitted"`
	ChargesEnabled   bool   `json:"charges_enabled"`
}

type accountLinkPayload struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) CreateAccount(ctx context.Context, email string) (Account, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)
	form.Set("business_type", "individual")
	form.Set("capabilities[transfers][requested]", "true")
	form.Set("capabilities[card_payments][requested]", "true")

	var payload accountPayload
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", form, &payload); err != nil {
		return Account{}, err
	}
	return toAccount(payload), nil
}

func (c *HTTPClient) CreateAccountLink(ctx context.Context, accountID string) (AccountLink, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", c.refreshURL)
	form.Set("return_url", c.returnURL)
	form.Set("type", "account_onboarding")

	var payload accountLinkPayload
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", form, &payload); err != nil {
		return AccountLink{}, err
	}
	return AccountLink{
		URL:       payload.URL,
		ExpiresAt: time.Unix(payload.ExpiresAt, 0),
	}, nil
}

func (c *HTTPClient) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var payload accountPayload
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, &payload); err != nil {
		return Account{}, err
	}
	return toAccount(payload), nil
}

func toAccount(p accountPayload) Account {
	return Account{
		ID:               p.ID,
		Email:            p.Email,
		DetailsSubmitted: p.DetailsSubmitted,
		ChargesEnabled:   p.ChargesEnabled,
	}
}

// do executes one API call and decodes the response into out. Non-2xx
// responses surface as upstream errors carrying the processor's message.
func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	start := time.Now()
	defer func() {
		c.metrics.ObserveProcessorLatency(endpointLabel(path), time.Since(start))
	}()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "build processor request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeUpstream, "processor request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeUpstream, "read processor response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ep errorPayload
		if jsonErr := json.Unmarshal(raw, &ep); jsonErr == nil && ep.Error.Message != "" {
			return dErrors.Newf(dErrors.CodeUpstream, "processor %s: %s", ep.Error.Type, ep.Error.Message)
		}
		return dErrors.Newf(dErrors.CodeUpstream, "processor returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return dErrors.Wrap(dErrors.CodeUpstream, "decode processor response", err)
	}
	return nil
}

// endpointLabel collapses per-account paths so the latency metric keeps a
// bounded label set.
func endpointLabel(path string) string {
	if strings.HasPrefix(path, "/v1/accounts/") {
		return "/v1/accounts/{id}"
	}
	return path
}

var _ Client = (*HTTPClient)(nil)
