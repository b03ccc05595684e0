package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// SignatureHeader is the HTTP header carrying the hex HMAC of the request body.
const SignatureHeader = "X-Webhook-Signature"

// canonicalEvent is the wire shape of a delivered event. The body bytes
// produced from it are built exactly once per attempt; the same bytes are
// signed and sent, which is what keeps receiver-side verification sound.
type canonicalEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// BuildBody serialises the event into the canonical delivery body.
func BuildBody(event model.Event) ([]byte, error) {
	body, err := json.Marshal(canonicalEvent{
		ID:        event.ID,
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}
	return body, nil
}

// Sign computes the hex HMAC-SHA256 of body under the subscription secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret,
// using a constant-time comparison.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
