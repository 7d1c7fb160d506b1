package flash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/warp/benefits-engine/benefit"
)

// =============================================================================
// SIGNATURES
// =============================================================================

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Flash-Signature"

// VerifySignature checks a webhook body against its signature header.
// An empty secret or header never verifies.
func VerifySignature(payload []byte, header, secret string) bool {
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	secret = strings.TrimSpace(secret)
	if sig == "" || secret == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(Sign(payload, secret), expected)
}

// Sign returns the raw HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// =============================================================================
// WEBHOOK EVENTS
// =============================================================================

// Event is the body Flash posts to the callback endpoint.
type Event struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// ParseEvent decodes a webhook body. Only terminal states are accepted.
func ParseEvent(body []byte) (Event, benefit.ProviderState, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, "", &benefit.ValidationError{Field: "body", Value: len(body), Reason: "malformed JSON"}
	}
	if strings.TrimSpace(ev.Reference) == "" {
		return Event{}, "", &benefit.ValidationError{Field: "reference", Value: ev.Reference, Reason: "is required"}
	}
	state, err := ParseState(ev.Status)
	if err != nil || state == benefit.ProviderProcessing {
		return Event{}, "", &benefit.ValidationError{Field: "status", Value: ev.Status, Reason: "must be completed or failed"}
	}
	return ev, state, nil
}
