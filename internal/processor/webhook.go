package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"connect-gateway/internal/domain"
	dErrors "connect-gateway/pkg/domain-errors"
)

// Event kinds this gateway reacts to. Anything else is acknowledged without
// a state change so new processor event types never fail delivery.
const (
	EventAccountUpdated      = "account.updated"
	EventAccountDeauthorized = "account.application.deauthorized"
)

// Event is a verified push notification from the processor.
type Event struct {
	ID      string
	Kind    string
	Account EventAccount
}

// EventAccount is the account object embedded in an event payload.
type EventAccount struct {
	ID               string `json:"id"`
	DetailsSubmitted bool   `json:"details_submitted"`
	ChargesEnabled   bool   `json:"charges_enabled"`
}

// Snapshot extracts the verification flags for the reconciliation rule.
func (a EventAccount) Snapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		DetailsSubmitted: a.DetailsSubmitted,
		ChargesEnabled:   a.ChargesEnabled,
	}
}

// DefaultTolerance bounds how stale a signature timestamp may be. Limits the
// replay window for captured deliveries.
const DefaultTolerance = 5 * time.Minute

// WebhookVerifier authenticates raw webhook payloads against the shared
// signing secret. The secret is injected at construction time; nothing reads
// configuration mid-request.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier builds a verifier for the given shared secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// ConstructEvent verifies the signature header against the raw payload and,
// on success, parses the event. Any verification failure returns an
// invalid_signature error and the payload must be discarded.
//
// The header carries a unix timestamp and one or more HMAC-SHA256 signatures
// over "<timestamp>.<payload>": "t=1700000000,v1=5257a8...,v1=..."
func (v *WebhookVerifier) ConstructEvent(payload []byte, header string) (Event, error) {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return Event{}, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return Event{}, dErrors.New(dErrors.CodeInvalidSignature, "signature timestamp outside tolerance")
	}

	expected := computeSignature(v.secret, timestamp, payload)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			matched = true
		}
	}
	if !matched {
		return Event{}, dErrors.New(dErrors.CodeInvalidSignature, "no matching signature found")
	}

	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object EventAccount `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, dErrors.Wrap(dErrors.CodeBadRequest, "malformed event payload", err)
	}

	return Event{
		ID:      raw.ID,
		Kind:    raw.Type,
		Account: raw.Data.Object,
	}, nil
}

// SignPayload produces a valid signature header for a payload. Used by tests
// and local tooling to fabricate deliveries.
func SignPayload(secret string, timestamp time.Time, payload []byte) string {
	sig := computeSignature([]byte(secret), timestamp.Unix(), payload)
	return "t=" + strconv.FormatInt(timestamp.Unix(), 10) + ",v1=" + hex.EncodeToString(sig)
}

func computeSignature(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	if header == "" {
		return 0, nil, dErrors.New(dErrors.CodeInvalidSignature, "missing signature header")
	}

	var timestamp int64 = -1
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, dErrors.New(dErrors.CodeInvalidSignature, "malformed signature timestamp")
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue // skip undecodable candidates, others may match
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, dErrors.New(dErrors.CodeInvalidSignature, "signature header missing timestamp or signature")
	}
	return timestamp, signatures, nil
}
