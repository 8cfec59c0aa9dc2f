package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"booking-chat/internal/models"
	"booking-chat/internal/repositories"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnknownPrincipal  = errors.New("unknown or inactive principal")
)

// TokenQueryParam is the structured handshake field carrying the token.
const TokenQueryParam = "token"

// CredentialFromRequest returns the bearer token from the handshake field or
// the Authorization header.
func CredentialFromRequest(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token, nil
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredential
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidCredential
	}
	return strings.TrimSpace(token), nil
}

// PrincipalFinder resolves active users.
type PrincipalFinder interface {
	FindActiveByID(ctx context.Context, userID int64) (models.Principal, error)
}

// Authenticator turns a credential into an active principal.
type Authenticator struct {
	verifier TokenVerifier
	users    PrincipalFinder
}

func NewAuthenticator(verifier TokenVerifier, users PrincipalFinder) *Authenticator {
	return &Authenticator{verifier: verifier, users: users}
}

// Authenticate verifies the token and loads the principal it names.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, ErrMissingCredential
	}
	identity, err := a.verifier.Verify(token)
	if err != nil {
		return models.Principal{}, errors.Join(ErrInvalidCredential, err)
	}
	principal, err := a.users.FindActiveByID(ctx, identity.PrincipalID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.Principal{}, ErrUnknownPrincipal
	}
	if err != nil {
		return models.Principal{}, err
	}
	if principal.Role == "" {
		principal.Role = identity.Role
	}
	return principal, nil
}

// Reason is the short code reported to the client for an auth failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "MissingCredential"
	case errors.Is(err, ErrInvalidCredential):
		return "InvalidCredential"
	case errors.Is(err, ErrUnknownPrincipal):
		return "UnknownOrInactivePrincipal"
	default:
		return "AuthUnavailable"
	}
}
