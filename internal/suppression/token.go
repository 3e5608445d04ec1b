package suppression

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/keepup-email-engine/internal/contacts"
)

// ErrInvalidToken covers malformed tokens and bad signatures alike, so
// callers can't distinguish tampering from garbage.
var ErrInvalidToken = errors.New("suppression: invalid unsubscribe token")

// TokenPayload is what an unsubscribe token carries. Tokens do not
// expire; Ts exists for auditing.
type TokenPayload struct {
	CompanyID string `json:"companyId"`
	Email     string `json:"email"`
	Ts        int64  `json:"ts"`
}

// TokenCodec signs and verifies unsubscribe tokens. A token is
// base64url(payload JSON) + "." + base64url(HMAC-SHA256 over the
// encoded payload).
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a codec; an empty secret disables it.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// Configured reports whether a signing secret is present.
func (c *TokenCodec) Configured() bool {
	return len(c.secret) > 0
}

func (c *TokenCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Build signs a token for one company and address. Returns an error
// when the codec has no secret or the inputs are empty.
func (c *TokenCodec) Build(companyID, email string, now time.Time) (string, error) {
	if !c.Configured() {
		return "", errors.New("suppression: unsubscribe secret not configured")
	}
	normalized := contacts.NormalizeEmail(email)
	if companyID == "" || normalized == "" {
		return "", errors.New("suppression: companyId and email are required")
	}

	payload, err := json.Marshal(TokenPayload{
		CompanyID: companyID,
		Email:     normalized,
		Ts:        now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

// Parse verifies a token and returns its payload. Signature comparison
// is constant time.
func (c *TokenCodec) Parse(token string) (*TokenPayload, error) {
	if !c.Configured() || token == "" {
		return nil, ErrInvalidToken
	}
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return nil, ErrInvalidToken
	}
	expected := c.sign(encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload TokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if payload.CompanyID == "" || payload.Email == "" {
		return nil, ErrInvalidToken
	}
	return &payload, nil
}

// URLBuilder turns tokens into public unsubscribe links.
type URLBuilder struct {
	codec   *TokenCodec
	baseURL string
}

// NewURLBuilder creates a builder; an empty base URL disables it.
func NewURLBuilder(codec *TokenCodec, baseURL string) *URLBuilder {
	return &URLBuilder{codec: codec, baseURL: strings.TrimRight(baseURL, "/")}
}

// Configured reports whether both the secret and the base URL are set.
// Blast sends require this before they may go out.
func (b *URLBuilder) Configured() bool {
	return b.codec.Configured() && b.baseURL != ""
}

// Build returns the full unsubscribe link for one recipient.
func (b *URLBuilder) Build(companyID, email string, now time.Time) (string, error) {
	if b.baseURL == "" {
		return "", errors.New("suppression: unsubscribe base URL not configured")
	}
	token, err := b.codec.Build(companyID, email, now)
	if err != nil {
		return "", err
	}
	return b.baseURL + "/email/unsubscribe?token=" + url.QueryEscape(token), nil
}
