package out

import (
	"context"

	"golang.org/x/oauth2"
)

// IdentityProviderPort is the OAuth 2.0 authorization-code flow against the provider.
// Errors are returned as classified *apperr.AppError values.
type IdentityProviderPort interface {
	// AuthCodeURL requests offline access and forces consent.
	AuthCodeURL(state string) string

	// Exchange trades a single-use authorization code for tokens.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Refresh obtains a new access token. The refresh token is not rotated.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}
