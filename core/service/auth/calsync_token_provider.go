package auth

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"calsync_server/core/domain"
	"calsync_server/core/service/credential"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"
)

// TokenProvider turns a stored credential into a live access token,
// refreshing and persisting it first when it is inside the expiry buffer.
type TokenProvider struct {
	store       *credential.Store
	enc         *crypto.Encryptor
	coordinator *Coordinator
	metrics     *metrics.CalendarMetrics
	group       singleflight.Group
}

func NewTokenProvider(store *credential.Store, enc *crypto.Encryptor, coordinator *Coordinator, m *metrics.CalendarMetrics) *TokenProvider {
	if m == nil {
		m = metrics.NewCalendarMetrics()
	}
	return &TokenProvider{
		store:       store,
		enc:         enc,
		coordinator: coordinator,
		metrics:     m,
	}
}

// Token returns a usable bearer token for cred. Decryption failures are
// integrity errors; refresh failures are REAUTH_REQUIRED.
func (p *TokenProvider) Token(ctx context.Context, cred *domain.Credential) (*oauth2.Token, error) {
	if !p.store.IsExpired(cred.TokenExpiresAt) {
		access, err := p.enc.Open(cred.AccessToken)
		if err != nil {
			return nil, err
		}
		return bearer(access, cred.TokenExpiresAt), nil
	}

	// concurrent syncs for one credential share a single refresh
	v, err, shared := p.group.Do(strconv.FormatInt(cred.ID, 10), func() (any, error) {
		return p.refresh(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("[TokenProvider.Token] Shared refresh for credential %d", cred.ID)
	}
	return v.(*oauth2.Token), nil
}

func (p *TokenProvider) refresh(ctx context.Context, cred *domain.Credential) (*oauth2.Token, error) {
	if !cred.HasRefreshToken() {
		p.metrics.Outcomes.Inc(metrics.OutcomeReauth)
		return nil, apperr.ReauthRequired("google", nil).WithDetail("reason", "no refresh token stored")
	}

	refreshToken, err := p.enc.Open(cred.RefreshToken)
	if err != nil {
		return nil, err
	}

	tokens, err := p.coordinator.Refresh(ctx, refreshToken)
	if err != nil {
		p.metrics.Outcomes.Inc(metrics.OutcomeReauth)
		logger.WithError(err).Warn("[TokenProvider.refresh] Refresh failed for credential %d", cred.ID)
		if apperr.HasCode(err, apperr.CodeReauthRequired) {
			return nil, err
		}
		return nil, apperr.ReauthRequired("google", err)
	}

	sealed, err := p.enc.Seal(tokens.AccessToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	if _, err := p.store.UpdateFields(ctx, cred.ID, map[domain.CredentialField]any{
		domain.FieldEncryptedAccessToken: sealed,
		domain.FieldTokenExpiresAt:       tokens.ExpiresAt,
	}); err != nil {
		return nil, err
	}

	p.metrics.Outcomes.Inc(metrics.OutcomeRefreshed)
	logger.Info("[TokenProvider.refresh] Refreshed access token for credential %d", cred.ID)
	return bearer(tokens.AccessToken, tokens.ExpiresAt), nil
}

func bearer(access string, expiresAt *time.Time) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if expiresAt != nil {
		tok.Expiry = *expiresAt
	}
	return tok
}
