package auth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"
)

// Coordinator runs the authorization-code flow. It keeps no state of its
// own; every call is a request against the identity provider or a
// state encode/decode.
type Coordinator struct {
	idp    out.IdentityProviderPort
	states *StateCodec
}

func NewCoordinator(idp out.IdentityProviderPort, states *StateCodec) *Coordinator {
	return &Coordinator{idp: idp, states: states}
}

// BuildAuthorizationURL returns the consent URL for subject.
func (c *Coordinator) BuildAuthorizationURL(subject domain.Subject) (string, error) {
	state, _, err := c.states.Encode(subject)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	return c.idp.AuthCodeURL(state), nil
}

// DecodeState fails with INVALID_STATE or EXPIRED_STATE.
func (c *Coordinator) DecodeState(state string) (domain.OAuthState, error) {
	return c.states.Decode(state)
}

// ExchangeCode trades a single-use code for tokens. Never retried.
func (c *Coordinator) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if code == "" {
		return nil, apperr.MissingField("code")
	}

	tok, err := c.idp.Exchange(ctx, code)
	if err != nil {
		logger.WithError(err).Warn("[Coordinator.ExchangeCode] Code exchange failed")
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, apperr.OAuthFailed("google", nil).WithDetail("reason", "empty access token")
	}

	return toTokenSet(tok, tok.RefreshToken), nil
}

// Refresh returns a new access token. The caller's refresh token is carried
// through unchanged even if the provider returns another one.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	if refreshToken == "" {
		return nil, apperr.ReauthRequired("google", nil)
	}

	tok, err := c.idp.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return toTokenSet(tok, refreshToken), nil
}

func toTokenSet(tok *oauth2.Token, refreshToken string) *domain.TokenSet {
	ts := &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC().Truncate(time.Second)
		ts.ExpiresAt = &exp
	}
	return ts
}
