package signer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

// Payload is the set of ticket facts covered by the signature. It is enough
// to verify a scan offline: number, resource, validity window, issue time.
type Payload struct {
	TicketNumber string
	ResourceID   string
	ValidFrom    time.Time
	ValidUntil   time.Time
	IssuedAt     time.Time
}

type ticketClaims struct {
	TicketNumber string `json:"tno"`
	ResourceID   string `json:"res"`
	jwt.RegisteredClaims
}

// Signer encodes and verifies ticket payloads with keyed message
// authentication (HS256).
type Signer struct {
	secret []byte
}

func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(p Payload) (string, error) {
	claims := ticketClaims{
		TicketNumber: p.TicketNumber,
		ResourceID:   p.ResourceID,
		RegisteredClaims: jwt.RegisteredClaims{
			NotBefore: jwt.NewNumericDate(p.ValidFrom),
			ExpiresAt: jwt.NewNumericDate(p.ValidUntil),
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and decodes the payload. The validity window
// is deliberately not enforced here; the validator distinguishes "expired"
// from "tampered", so window checks stay with the caller.
func (s *Signer) Verify(token string) (Payload, error) {
	var claims ticketClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return Payload{}, domain.ErrTicketTampered
	}
	if claims.TicketNumber == "" || claims.ResourceID == "" ||
		claims.NotBefore == nil || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Payload{}, domain.ErrTicketTampered
	}
	return Payload{
		TicketNumber: claims.TicketNumber,
		ResourceID:   claims.ResourceID,
		ValidFrom:    claims.NotBefore.Time,
		ValidUntil:   claims.ExpiresAt.Time,
		IssuedAt:     claims.IssuedAt.Time,
	}, nil
}
