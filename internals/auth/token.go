package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/solostream/coordinator/internals/presence"
)

// HMACResolver verifies compact HMAC-SHA256 tokens of the form
// base64url(claims) "." base64url(signature). The signing side lives in the
// account service with the same secret.
type HMACResolver struct {
	secret []byte
	now    func() time.Time
}

type tokenClaims struct {
	UserID    int64         `json:"user_id"`
	Role      presence.Role `json:"role"`
	ExpiresAt int64         `json:"exp"`
}

func NewHMACResolver(secret string) *HMACResolver {
	return &HMACResolver{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (r *HMACResolver) Resolve(_ context.Context, token string) (Identity, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	wantSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !hmac.Equal(wantSig, r.sign(body)) {
		return Identity{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !claims.Role.Valid() || claims.UserID <= 0 {
		return Identity{}, ErrInvalidToken
	}
	if claims.ExpiresAt > 0 && r.now().Unix() >= claims.ExpiresAt {
		return Identity{}, ErrTokenExpired
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Sign mints a token for id valid for ttl. Kept next to Resolve so tests and
// local tooling can produce accepted tokens; production issuance is external.
func (r *HMACResolver) Sign(id Identity, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		UserID: id.UserID,
		Role:   id.Role,
	}
	if ttl > 0 {
		claims.ExpiresAt = r.now().Add(ttl).Unix()
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	sig := base64.RawURLEncoding.EncodeToString(r.sign(body))
	return body + "." + sig, nil
}

func (r *HMACResolver) sign(body string) []byte {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
