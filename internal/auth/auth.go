// Package auth verifies bearer tokens before plan handlers run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the verified caller.
type Identity struct {
	Subject string
	Email   string
	Claims  jwt.MapClaims
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Revalidator runs provider specific checks on claims whose signature and
// expiry already passed.
type Revalidator interface {
	Revalidate(ctx context.Context, claims jwt.MapClaims) error
}

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleRevalidator accepts Google ID tokens issued for ClientID.
type GoogleRevalidator struct {
	ClientID string
}

func (g GoogleRevalidator) Revalidate(_ context.Context, claims jwt.MapClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !slices.Contains(googleIssuers, issuer) {
		return fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, issuer)
	}

	audience, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if g.ClientID == "" || !slices.Contains(audience, g.ClientID) {
		return fmt.Errorf("%w: token not issued for this client", ErrInvalidToken)
	}
	return nil
}

// JWKSVerifier checks RS256 signatures against keys looked up by kid.
type JWKSVerifier struct {
	keyfunc     jwt.Keyfunc
	parser      *jwt.Parser
	revalidator Revalidator
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed until
// ctx is done.
func NewJWKSVerifier(ctx context.Context, jwksURL string, revalidator Revalidator) (*JWKSVerifier, error) {
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: load jwks %s: %w", jwksURL, err)
	}
	return NewVerifier(keys.Keyfunc, revalidator), nil
}

// NewVerifier builds a verifier over an arbitrary key lookup. revalidator
// may be nil.
func NewVerifier(kf jwt.Keyfunc, revalidator Revalidator) *JWKSVerifier {
	return &JWKSVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
		revalidator: revalidator,
	}
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if v.revalidator != nil {
		if err := v.revalidator.Revalidate(ctx, claims); err != nil {
			return nil, err
		}
	}

	subject, _ := claims.GetSubject()
	email, _ := claims["email"].(string)
	return &Identity{Subject: subject, Email: email, Claims: claims}, nil
}

// StaticVerifier accepts a fixed set of tokens.
type StaticVerifier map[string]*Identity

func (s StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	identity, ok := s[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	return identity, nil
}
