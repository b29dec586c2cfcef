package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const AdminAudience = "payments-admin"

var ErrInvalidToken = errors.New("invalid token")

// ServiceClaims identify an internal caller allowed to update payment status.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// ServiceTokens issues and verifies HS256 service tokens for the admin surface.
type ServiceTokens struct {
	secret   []byte
	issuer   string
	audience string
}

func NewServiceTokens(secret, issuer string) *ServiceTokens {
	return &ServiceTokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: AdminAudience,
	}
}

// Enabled reports whether a signing secret is configured.
func (s *ServiceTokens) Enabled() bool {
	return len(s.secret) > 0
}

func (s *ServiceTokens) Issue(subject, role string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", errors.New("service token secret not configured")
	}
	now := time.Now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

func (s *ServiceTokens) Verify(tokenStr string) (*ServiceClaims, error) {
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}
	claims := new(ServiceClaims)
	parser := jwt.NewParser(
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
