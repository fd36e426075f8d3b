// Package token issues and verifies the HS256 session tokens handed out at login.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/valkyrie/internal/clock"
)

const issuer = "valkyrie"

type Kind string

const (
	KindPartner Kind = "partner"
	KindZeus    Kind = "zeus"
)

var ErrInvalidToken = errors.New("invalid_token")

type Claims struct {
	jwt.RegisteredClaims
	Kind      Kind   `json:"knd"`
	PartnerID string `json:"pid,omitempty"`
	Role      string `json:"role"`
}

type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewIssuer(secret []byte, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Issuer{secret: secret, ttl: ttl, clock: clk}, nil
}

// RandomSecret is used when no secret is configured outside production.
func RandomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Issue(kind Kind, subject, partnerID, role string) (Issued, error) {
	now := i.clock.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind:      kind,
		PartnerID: partnerID,
		Role:      role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, ID: id, ExpiresAt: expiresAt}, nil
}

// Parse verifies signature, issuer and lifetime and requires the given kind.
func (i *Issuer) Parse(raw string, kind Kind) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
