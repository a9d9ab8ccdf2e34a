package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what an access token says about itself. It is read without
// signature verification and only ever shown to the user.
type TokenInfo struct {
	Subject   string     `json:"subject,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the token claims an expiry before now.
func (i *TokenInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// InspectToken decodes the claims of a JWT access token.
func InspectToken(raw string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}

	info := &TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		info.IssuedAt = &t
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
	}
	if email, ok := claims["email"].(string); ok {
		info.Email = email
	}
	if role, ok := claims["role"].(string); ok {
		info.Role = role
	}
	if info.Subject == "" {
		for _, k := range []string{"userId", "id"} {
			if v, ok := claims[k].(string); ok {
				info.Subject = v
				break
			}
		}
	}
	return info, nil
}
