package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "orion"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	signingKeySize = 32
)

var (
	// ErrInvalidToken is returned for malformed, forged or mistyped tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReused is returned when a refresh token has already been
	// rotated or revoked.
	ErrTokenReused = errors.New("refresh token already used")
)

// sessionClaims are the JWT claims carried by both session cookies.
type sessionClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// issuedToken is a signed token plus the metadata needed to set its cookie
// and revoke it later.
type issuedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// tokenSigner signs and verifies HS256 session tokens. The key stays sealed
// in a memguard enclave and is only unsealed for the duration of a call.
type tokenSigner struct {
	key        *memguard.Enclave
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// newTokenSigner seals key. A nil key selects a random per-process key, so
// sessions do not survive a restart.
func newTokenSigner(key []byte, accessTTL, refreshTTL time.Duration) *tokenSigner {
	var enclave *memguard.Enclave
	if len(key) == 0 {
		enclave = memguard.NewEnclaveRandom(signingKeySize)
	} else {
		enclave = memguard.NewEnclave(key)
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &tokenSigner{key: enclave, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

func (s *tokenSigner) issuePair(email string) (access, refresh issuedToken, err error) {
	access, err = s.issue(email, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return issuedToken{}, issuedToken{}, err
	}
	refresh, err = s.issue(email, tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return issuedToken{}, issuedToken{}, err
	}
	return access, refresh, nil
}

func (s *tokenSigner) issue(email, typ string, ttl time.Duration) (issuedToken, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims := sessionClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	buf, err := s.key.Open()
	if err != nil {
		return issuedToken{}, fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return issuedToken{}, fmt.Errorf("signing token: %w", err)
	}
	return issuedToken{Value: signed, ID: claims.ID, ExpiresAt: exp}, nil
}

// parse verifies raw and checks that it is a token of type typ.
func (s *tokenSigner) parse(raw, typ string) (*sessionClaims, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	claims := &sessionClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return buf.Bytes(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// remaining returns how long the token described by claims stays valid.
func (s *tokenSigner) remaining(claims *sessionClaims) time.Duration {
	if claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Sub(s.now())
}
