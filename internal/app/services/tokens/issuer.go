// Package tokens issues and verifies the per-round credentials that
// authorise shuffle submissions. Credentials are HMAC-signed JWTs scoped to
// exactly one (room, round, participant); verification is stateless so
// submission validation never touches storage or the network.
package tokens

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coin-shuffle/coordinator/internal/apperr"
)

// Claims carries the credential scope.
type Claims struct {
	RoomID string `json:"room_id"`
	Round  int    `json:"round"`
	UTXOID string `json:"utxo_id"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies round credentials. The signing secret is
// process-wide immutable configuration; construct once at startup.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// DefaultTTL bounds credential lifetime when configuration does not set one.
// A credential only needs to outlive its round deadline.
const DefaultTTL = 24 * time.Hour

// NewIssuer creates an issuer with the given signing secret.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue returns a signed credential for one (room, round, participant).
func (i *Issuer) Issue(roomID string, round int, utxoID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomID: roomID,
		Round:  round,
		UTXOID: utxoID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the credential scope.
// Any failure maps to InvalidCredential; callers still must match the scope
// against the room they are mutating.
func (i *Issuer) Verify(credential string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidCredential, "credential rejected", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.New(apperr.CodeInvalidCredential, "credential rejected")
	}
	if claims.RoomID == "" || claims.UTXOID == "" || claims.Round < 0 {
		return nil, apperr.New(apperr.CodeInvalidCredential, "credential scope incomplete")
	}
	return claims, nil
}
