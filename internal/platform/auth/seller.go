package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Seller dashboard calls authenticate with an HS256 bearer token issued by
// the seller portal, not with Firebase. The token carries the seller account
// identifier as its subject.

// ErrSellerTokenInvalid signals a seller token that failed validation.
var ErrSellerTokenInvalid = errors.New("auth: seller token invalid")

// SellerIdentity is the authenticated seller principal.
type SellerIdentity struct {
	SellerID string
	Email    string
}

type sellerContextKey struct{}

// WithSellerIdentity stores the seller identity on the context.
func WithSellerIdentity(ctx context.Context, identity *SellerIdentity) context.Context {
	return context.WithValue(ctx, sellerContextKey{}, identity)
}

// SellerIdentityFromContext retrieves the seller identity stored by the middleware.
func SellerIdentityFromContext(ctx context.Context) (*SellerIdentity, bool) {
	identity, ok := ctx.Value(sellerContextKey{}).(*SellerIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

type sellerClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SellerAuthenticator validates seller portal bearer tokens.
type SellerAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// SellerOption customises SellerAuthenticator behaviour.
type SellerOption func(*SellerAuthenticator)

// WithSellerIssuer requires the iss claim to match the given issuer.
func WithSellerIssuer(issuer string) SellerOption {
	return func(a *SellerAuthenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithSellerAudience requires the aud claim to include the given audience.
func WithSellerAudience(audience string) SellerOption {
	return func(a *SellerAuthenticator) {
		a.audience = strings.TrimSpace(audience)
	}
}

// WithSellerLeeway tolerates clock skew when checking exp/nbf.
func WithSellerLeeway(d time.Duration) SellerOption {
	return func(a *SellerAuthenticator) {
		if d > 0 {
			a.leeway = d
		}
	}
}

// WithSellerClock overrides the time source used for validation.
func WithSellerClock(now func() time.Time) SellerOption {
	return func(a *SellerAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewSellerAuthenticator constructs a validator for HS256 seller tokens.
func NewSellerAuthenticator(secret string, opts ...SellerOption) (*SellerAuthenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: seller token secret is required")
	}

	a := &SellerAuthenticator{
		secret: []byte(secret),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Verify parses and validates a raw seller bearer token.
func (a *SellerAuthenticator) Verify(tokenString string) (*SellerIdentity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.audience))
	}

	claims := &sellerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSellerTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrSellerTokenInvalid
	}

	sellerID := strings.TrimSpace(claims.Subject)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrSellerTokenInvalid)
	}

	return &SellerIdentity{
		SellerID: sellerID,
		Email:    strings.TrimSpace(claims.Email),
	}, nil
}

// RequireSellerAuth returns middleware enforcing a valid seller bearer token.
func (a *SellerAuthenticator) RequireSellerAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "missing_token", "authorization bearer token required")
				return
			}

			identity, err := a.Verify(tokenString)
			if err != nil {
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "seller token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSellerIdentity(r.Context(), identity)))
		})
	}
}
