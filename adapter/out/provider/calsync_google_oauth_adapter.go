package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/metrics"
	"calsync_server/pkg/resilience"
)

const providerGoogle = "google"

// GoogleOAuthConfig holds client registration for the Google identity provider.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
}

// GoogleOAuthAdapter implements IdentityProviderPort against Google's
// authorize and token endpoints, scoped to calendar events only.
type GoogleOAuthAdapter struct {
	config     *oauth2.Config
	httpClient *http.Client
	breaker    *resilience.Breaker
	latency    *metrics.LatencyRegistry
}

// NewGoogleOAuthAdapter creates the adapter. httpClient bounds every token call.
func NewGoogleOAuthAdapter(cfg GoogleOAuthConfig, httpClient *http.Client, breaker *resilience.Breaker, latency *metrics.LatencyRegistry) *GoogleOAuthAdapter {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("google-oauth"), IsExpectedOAuthError)
	}
	if latency == nil {
		latency = metrics.NewLatencyRegistry(1000)
	}

	return &GoogleOAuthAdapter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		breaker:    breaker,
		latency:    latency,
	}
}

// AuthCodeURL requests offline access and forces re-consent so a refresh
// token is issued on every authorization.
func (a *GoogleOAuthAdapter) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (a *GoogleOAuthAdapter) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	defer a.latency.Since("oauth.exchange", time.Now())

	tok, err := resilience.Call(a.breaker, func() (*oauth2.Token, error) {
		return a.config.Exchange(a.clientContext(ctx), code)
	})
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	return tok, nil
}

func (a *GoogleOAuthAdapter) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	defer a.latency.Since("oauth.refresh", time.Now())

	tok, err := resilience.Call(a.breaker, func() (*oauth2.Token, error) {
		// expired stub token forces the source to hit the token endpoint
		src := a.config.TokenSource(a.clientContext(ctx), &oauth2.Token{
			RefreshToken: refreshToken,
			Expiry:       time.Unix(1, 0),
		})
		return src.Token()
	})
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	return tok, nil
}

func (a *GoogleOAuthAdapter) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// =============================================================================
// Error classification
// =============================================================================

func retrieveError(err error) *oauth2.RetrieveError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re
	}
	return nil
}

// IsExpectedOAuthError keeps user or config mistakes from tripping the breaker.
func IsExpectedOAuthError(err error) bool {
	re := retrieveError(err)
	if re == nil || re.Response == nil {
		return false
	}
	code := re.Response.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func classifyExchangeError(err error) error {
	if resilience.IsOpen(err) {
		return apperr.ExternalError("google oauth", err)
	}
	re := retrieveError(err)
	if re == nil {
		return apperr.OAuthFailed(providerGoogle, err)
	}
	switch re.ErrorCode {
	case "invalid_grant":
		return apperr.CodeAlreadyUsed(err)
	case "redirect_uri_mismatch":
		return apperr.RedirectURIMismatch(err)
	}
	return apperr.OAuthFailed(providerGoogle, err).WithDetail("error_code", re.ErrorCode)
}

func classifyRefreshError(err error) error {
	if resilience.IsOpen(err) {
		return apperr.ExternalError("google oauth", err)
	}
	re := retrieveError(err)
	if re != nil && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client") {
		return apperr.ReauthRequired(providerGoogle, err)
	}
	return apperr.OAuthFailed(providerGoogle, err)
}

var _ out.IdentityProviderPort = (*GoogleOAuthAdapter)(nil)
