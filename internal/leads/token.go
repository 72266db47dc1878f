package leads

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner issues and validates unsubscribe tokens embedded into outbound
// email bodies. Tokens are HS256 JWTs carrying the lead id.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration

	now func() time.Time
}

// NewTokenSigner creates a token signer.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed unsubscribe token for a lead.
func (s *TokenSigner) Generate(leadID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   leadID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns the lead id it was issued for.
func (s *TokenSigner) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// UnsubscribeURL builds the public unsubscribe link for a lead.
func (s *TokenSigner) UnsubscribeURL(base, leadID string) (string, error) {
	token, err := s.Generate(leadID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/unsubscribe?token=%s", base, url.QueryEscape(token)), nil
}
