// Package token issues and verifies the HMAC-signed session tokens handed
// back to callers after a successful assessment or challenge.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Verification failure reasons.
var (
	ErrEncoding  = errors.New("token: invalid encoding")
	ErrMalformed = errors.New("token: malformed payload")
	ErrExpired   = errors.New("token: expired")
	ErrSignature = errors.New("token: signature mismatch")
)

const sigLen = 16 // hex chars of the truncated HMAC

// Claims is the signed token payload.
type Claims struct {
	SessionID string  `json:"sessionId"`
	WidgetID  string  `json:"widgetId"`
	Score     float64 `json:"score"`
	IssuedAt  int64   `json:"iat"`
	ExpiresAt int64   `json:"exp"`
	IPHash    string  `json:"ipHash,omitempty"`
}

type envelope struct {
	Claims
	Sig string `json:"sig"`
}

// Signer issues and verifies tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// NewSignerWithClock injects a time source, for tests.
func NewSignerWithClock(secret string, now func() time.Time) *Signer {
	return &Signer{secret: []byte(secret), now: now}
}

// MaskIP reduces an address to a short one-way hash so tokens can be bound
// to a source without carrying it.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:4])
}

// Issue signs a token for the session. Score is rounded to three decimals so
// the payload stays stable across float formatting.
func (s *Signer) Issue(sessionID, widgetID string, score float64, ipHash string, ttl time.Duration) string {
	now := s.now()
	c := Claims{
		SessionID: sessionID,
		WidgetID:  widgetID,
		Score:     math.Round(score*1000) / 1000,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		IPHash:    ipHash,
	}

	payload, _ := json.Marshal(c)
	env := envelope{Claims: c, Sig: s.sign(payload)}
	out, _ := json.Marshal(env)
	return base64.URLEncoding.EncodeToString(out)
}

// Verify decodes and checks a token, returning its claims when valid.
func (s *Signer) Verify(tok string) (*Claims, error) {
	raw, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		return nil, ErrEncoding
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Sig == "" {
		return nil, ErrMalformed
	}

	payload, _ := json.Marshal(env.Claims)
	if !hmac.Equal([]byte(env.Sig), []byte(s.sign(payload))) {
		return nil, ErrSignature
	}

	if s.now().Unix() > env.ExpiresAt {
		return nil, ErrExpired
	}
	return &env.Claims, nil
}

func (s *Signer) sign(payload []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:sigLen]
}
