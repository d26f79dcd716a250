package auth

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"calsync_server/adapter/out/memory"
	"calsync_server/core/domain"
	"calsync_server/core/service/credential"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/metrics"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeIDP struct {
	mu            sync.Mutex
	exchangeCalls int
	refreshCalls  int
	exchangeErr   error
	refreshErr    error
	exchanged     *oauth2.Token
	refreshed     *oauth2.Token
}

func (f *fakeIDP) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (f *fakeIDP) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchanged, nil
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

type fixture struct {
	now     time.Time
	idp     *fakeIDP
	repo    *memory.CredentialRepository
	store   *credential.Store
	enc     *crypto.Encryptor
	codec   *StateCodec
	coord   *Coordinator
	svc     *ConnectionService
	tokens  *TokenProvider
	metrics *metrics.CalendarMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ectx, err := crypto.NewEncryptionContext(bytes.Repeat([]byte{0x21}, crypto.KeySize))
	require.NoError(t, err)
	stateKey, err := ectx.DeriveKey("oauth-state", 32)
	require.NoError(t, err)

	f := &fixture{now: t0, idp: &fakeIDP{}}
	clock := func() time.Time { return f.now }

	f.repo = memory.NewCredentialRepository()
	f.repo.Now = clock
	f.store = credential.NewStore(f.repo)
	f.store.SetClock(clock)
	f.enc = crypto.NewEncryptor(ectx)
	f.codec = NewStateCodec(stateKey)
	f.codec.SetClock(clock)
	f.coord = NewCoordinator(f.idp, f.codec)
	f.svc = NewConnectionService(f.coord, f.store, f.enc, memory.NewStateLedger())
	f.metrics = metrics.NewCalendarMetrics()
	f.tokens = NewTokenProvider(f.store, f.enc, f.coord, f.metrics)
	return f
}

func stateFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

// =============================================================================
// State codec
// =============================================================================

func TestStateCodec_RoundTrip(t *testing.T) {
	f := newFixture(t)
	subject := domain.Subject{Type: domain.SubjectPartner, ID: 42}

	token, issued, err := f.codec.Encode(subject)
	require.NoError(t, err)

	f.now = t0.Add(9 * time.Minute)
	st, err := f.codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, subject, st.Subject)
	assert.Equal(t, issued.Nonce, st.Nonce)
	assert.True(t, issued.IssuedAt.Equal(st.IssuedAt))
}

func TestStateCodec_Expired(t *testing.T) {
	f := newFixture(t)

	token, _, err := f.codec.Encode(domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)

	f.now = t0.Add(10*time.Minute + time.Second)
	_, err = f.codec.Decode(token)
	assert.True(t, apperr.HasCode(err, apperr.CodeExpiredState))
}

func TestStateCodec_Invalid(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.codec.Encode(domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)

	other := NewStateCodec([]byte("another-key-another-key-another!"))
	other.SetClock(func() time.Time { return t0 })
	foreign, _, err := other.Encode(domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"garbage", "not-a-state"},
		{"plain base64 json", "eyJzdWJfdHlwZSI6InBhcnRuZXIiLCJzdWJfaWQiOjF9"},
		{"wrong key", foreign},
		{"truncated signature", parts[0] + "." + parts[1] + "." + parts[2][:10]},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.codec.Decode(tt.state)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState), "got %v", err)
		})
	}
}

func TestStateCodec_FutureIssued(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(time.Hour)
	token, _, err := f.codec.Encode(domain.Subject{Type: domain.SubjectUser, ID: 3})
	require.NoError(t, err)

	f.now = t0
	_, err = f.codec.Decode(token)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState))
}

// =============================================================================
// Connection flow
// =============================================================================

func TestConnect_FreshSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := domain.Subject{Type: domain.SubjectPartner, ID: 42}

	f.idp.exchanged = &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       t0.Add(time.Hour),
	}

	status, err := f.svc.GetConnectionStatus(ctx, subject)
	require.NoError(t, err)
	assert.False(t, status.Connected)

	authURL, err := f.svc.GetAuthURL(ctx, subject)
	require.NoError(t, err)
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "prompt=consent")
	state := stateFromURL(t, authURL)
	require.NotEmpty(t, state)

	f.now = t0.Add(2 * time.Minute)
	res, err := f.svc.HandleOAuthCallback(ctx, "4/valid-code", state)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.SubjectPartner, res.SubjectType)
	assert.Equal(t, int64(42), res.SubjectID)
	assert.Equal(t, f.now, res.ConnectedAt)

	cred, err := f.store.Find(ctx, subject)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.True(t, cred.SyncEnabled)
	assert.False(t, cred.ConnectedAt.IsZero())

	access, err := f.enc.Open(cred.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	refresh, err := f.enc.Open(cred.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
}

func TestCallback_ExpiredStateSkipsExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.idp.exchanged = &oauth2.Token{AccessToken: "a", Expiry: t0.Add(time.Hour)}

	authURL, err := f.svc.GetAuthURL(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)

	f.now = t0.Add(11 * time.Minute)
	_, err = f.svc.HandleOAuthCallback(ctx, "4/structurally-valid", stateFromURL(t, authURL))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeExpiredState))
	assert.Equal(t, 0, f.idp.exchangeCalls)
}

func TestCallback_ReplayedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.idp.exchanged = &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: t0.Add(time.Hour)}

	authURL, err := f.svc.GetAuthURL(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)
	state := stateFromURL(t, authURL)

	_, err = f.svc.HandleOAuthCallback(ctx, "code-1", state)
	require.NoError(t, err)

	_, err = f.svc.HandleOAuthCallback(ctx, "code-2", state)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState))
	assert.Equal(t, 1, f.idp.exchangeCalls)
}

func TestCallback_ExchangeErrorsPropagate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"code used", apperr.CodeAlreadyUsed(errors.New("invalid_grant")), apperr.CodeCodeAlreadyUsed},
		{"redirect mismatch", apperr.RedirectURIMismatch(errors.New("redirect_uri_mismatch")), apperr.CodeRedirectURIMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.idp.exchangeErr = tt.err

			authURL, err := f.svc.GetAuthURL(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 1})
			require.NoError(t, err)

			_, err = f.svc.HandleOAuthCallback(ctx, "code", stateFromURL(t, authURL))
			assert.True(t, apperr.HasCode(err, tt.code))

			cred, err := f.store.Find(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 1})
			require.NoError(t, err)
			assert.Nil(t, cred)
		})
	}
}

func TestCallback_MissingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	authURL, err := f.svc.GetAuthURL(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 1})
	require.NoError(t, err)

	_, err = f.svc.HandleOAuthCallback(ctx, "", stateFromURL(t, authURL))
	assert.True(t, apperr.HasCode(err, apperr.CodeMissingField))
}

func TestGetAuthURL_InvalidSubject(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetAuthURL(context.Background(), domain.Subject{Type: "admin", ID: 1})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput))

	_, err = f.svc.GetAuthURL(context.Background(), domain.Subject{Type: domain.SubjectUser, ID: 0})
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput))
}

func TestSetSyncEnabledAndDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subject := domain.Subject{Type: domain.SubjectPartner, ID: 9}

	err := f.svc.SetSyncEnabled(ctx, subject, false)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	access, err := f.enc.Seal("a")
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, subject, credential.Tokens{AccessToken: access})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetSyncEnabled(ctx, subject, false))
	status, err := f.svc.GetConnectionStatus(ctx, subject)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.False(t, status.SyncEnabled)
	assert.True(t, status.TokenExpired)

	ok, err := f.svc.DisconnectCalendar(ctx, subject)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.DisconnectCalendar(ctx, subject)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsTokenExpired(t *testing.T) {
	f := newFixture(t)
	in4 := t0.Add(4 * time.Minute)
	in6 := t0.Add(6 * time.Minute)

	assert.True(t, f.svc.IsTokenExpired(nil))
	assert.True(t, f.svc.IsTokenExpired(&in4))
	assert.False(t, f.svc.IsTokenExpired(&in6))
}

// =============================================================================
// Token provider
// =============================================================================

func storeCredential(t *testing.T, f *fixture, expiresAt time.Time, refresh string) *domain.Credential {
	t.Helper()
	access, err := f.enc.Seal("old-access")
	require.NoError(t, err)
	tokens := credential.Tokens{AccessToken: access, ExpiresAt: &expiresAt}
	if refresh != "" {
		tokens.RefreshToken, err = f.enc.Seal(refresh)
		require.NoError(t, err)
	}
	cred, err := f.store.Upsert(context.Background(), domain.Subject{Type: domain.SubjectPartner, ID: 5}, tokens)
	require.NoError(t, err)
	return cred
}

func TestTokenProvider_FreshTokenNoRefresh(t *testing.T) {
	f := newFixture(t)
	cred := storeCredential(t, f, t0.Add(time.Hour), "refresh")

	tok, err := f.tokens.Token(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)
	assert.Equal(t, 0, f.idp.refreshCalls)
}

func TestTokenProvider_RefreshesAndPersists(t *testing.T) {
	f := newFixture(t)
	cred := storeCredential(t, f, t0.Add(time.Minute), "refresh")

	newExpiry := t0.Add(time.Hour)
	f.idp.refreshed = &oauth2.Token{AccessToken: "new-access", RefreshToken: "rotated", Expiry: newExpiry}

	tok, err := f.tokens.Token(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, 1, f.idp.refreshCalls)

	stored, err := f.store.Find(context.Background(), cred.Subject)
	require.NoError(t, err)
	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, newExpiry.Equal(*stored.TokenExpiresAt))

	access, err := f.enc.Open(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	refresh, err := f.enc.Open(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh, "refresh token must not rotate")
	assert.Equal(t, int64(1), f.metrics.Outcomes.Get(metrics.OutcomeRefreshed))
}

func TestTokenProvider_RefreshFailureIsReauth(t *testing.T) {
	f := newFixture(t)
	cred := storeCredential(t, f, t0.Add(-time.Minute), "refresh")
	f.idp.refreshErr = errors.New("oauth2: \"invalid_grant\" \"Token has been expired or revoked.\"")

	_, err := f.tokens.Token(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeReauthRequired))
}

func TestTokenProvider_NoRefreshToken(t *testing.T) {
	f := newFixture(t)
	cred := storeCredential(t, f, t0.Add(-time.Minute), "")

	_, err := f.tokens.Token(context.Background(), cred)
	assert.True(t, apperr.HasCode(err, apperr.CodeReauthRequired))
	assert.Equal(t, 0, f.idp.refreshCalls)
}

func TestTokenProvider_TamperedAccessToken(t *testing.T) {
	f := newFixture(t)
	cred := storeCredential(t, f, t0.Add(time.Hour), "refresh")
	cred.AccessToken.Tag[0] ^= 0xff

	_, err := f.tokens.Token(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, crypto.IsIntegrityError(err))
}
