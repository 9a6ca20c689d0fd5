package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/vending-fleet/internal/core/domain"
)

const adminSubject = "admin"

// AdminClaims identifies an admin session on one machine.
type AdminClaims struct {
	MachineID string `json:"mid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 admin session tokens.
type TokenIssuer struct {
	secret    []byte
	ttl       time.Duration
	machineID string
	now       func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration, machineID string) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		ttl:       ttl,
		machineID: machineID,
		now:       time.Now,
	}
}

// Issue returns a signed token and its expiry.
func (t *TokenIssuer) Issue() (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)

	claims := AdminClaims{
		MachineID: t.machineID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature, expiry, subject and machine of token.
func (t *TokenIssuer) Verify(token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(adminSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.MachineID != t.machineID {
		return nil, fmt.Errorf("%w: token issued for machine %q", domain.ErrUnauthorized, claims.MachineID)
	}
	return claims, nil
}
