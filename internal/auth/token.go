package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrNoSecret       = errors.New("auth: JWT secret is not configured")
)

// Claims defines the structure of our JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	maxAge time.Duration
	name   string
	now    func() time.Time
}

// NewIssuer returns an Issuer for the given secret and token lifetime.
func NewIssuer(secret string, maxAge time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		maxAge: maxAge,
		name:   "blinkchat-devserver",
		now:    time.Now,
	}
}

// Generate creates a signed token for userID.
func (i *Issuer) Generate(userID uuid.UUID) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	if i.maxAge <= 0 {
		return "", fmt.Errorf("token max age is not configured or invalid")
	}

	now := i.now()
	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    i.name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString, checks its signature and expiry, and returns
// the claims.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse or validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}

// Inspect reads the claims of a token without verifying its signature. The
// client has no secret; it only needs the user id and the expiry.
func Inspect(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return claims, nil
}

// CheckExpiry returns ErrTokenExpired when the token carries an expiry
// before now. Tokens without an expiry are accepted.
func CheckExpiry(tokenString string, now time.Time) error {
	claims, err := Inspect(tokenString)
	if err != nil {
		return err
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}

// UserIDFromToken extracts the user id claim of an unverified token.
func UserIDFromToken(tokenString string) (uuid.UUID, error) {
	claims, err := Inspect(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: user_id: %v", ErrTokenMalformed, err)
	}
	return id, nil
}
