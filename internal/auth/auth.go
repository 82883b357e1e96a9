// Package auth verifies bearer tokens issued by the chat application's auth
// service and carries the resulting identity through request contexts.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/chatfn/internal/errs"
)

// ServiceRole is the role claim of trusted backend callers (database
// triggers and cron jobs) that act on behalf of any user.
const ServiceRole = "service_role"

// Identity is the verified caller of a request.
type Identity struct {
	ID       string
	Email    string
	Role     string
	Metadata map[string]any
	Token    string
}

// IsService reports whether the caller is a trusted backend.
func (id Identity) IsService() bool {
	return id.Role == ServiceRole
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// JWTVerifier checks HS256-signed access tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, &errs.Error{Kind: errs.KindAuth, Message: "Invalid or expired token", Err: err}
	}
	if c.Subject == "" && c.Role != ServiceRole {
		return Identity{}, errs.Unauthorized("Invalid or expired token")
	}
	return Identity{
		ID:       c.Subject,
		Email:    c.Email,
		Role:     c.Role,
		Metadata: c.UserMetadata,
		Token:    token,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authorize allows the owner of a resource and service callers.
func Authorize(id Identity, ownerID string) error {
	if id.IsService() {
		return nil
	}
	if id.ID == "" || id.ID != ownerID {
		return errs.Forbidden("Forbidden")
	}
	return nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
