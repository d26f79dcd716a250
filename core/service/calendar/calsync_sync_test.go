package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"calsync_server/adapter/out/memory"
	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/core/service/auth"
	"calsync_server/core/service/credential"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/metrics"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// callLog records the order of outbound calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) count(c string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, x := range l.calls {
		if x == c {
			n++
		}
	}
	return n
}

type fakeIDP struct {
	log        *callLog
	refreshed  *oauth2.Token
	refreshErr error
}

func (f *fakeIDP) AuthCodeURL(state string) string { return "https://example.com/auth?state=" + state }

func (f *fakeIDP) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return nil, errors.New("not used")
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.log.add("refresh")
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

type fakeEvents struct {
	log       *callLog
	mu        sync.Mutex
	next      int
	tokens    []string
	insertErr error
	updateErr error
	deleteErr error
	lastEvent *out.CalendarEvent
}

func (f *fakeEvents) InsertEvent(ctx context.Context, token *oauth2.Token, calendarID string, ev *out.CalendarEvent) (string, error) {
	f.log.add("insert")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token.AccessToken)
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.next++
	f.lastEvent = ev
	return fmt.Sprintf("evt_%d", f.next), nil
}

func (f *fakeEvents) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, ev *out.CalendarEvent) error {
	f.log.add("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token.AccessToken)
	f.lastEvent = ev
	return f.updateErr
}

func (f *fakeEvents) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
	f.log.add("delete")
	return f.deleteErr
}

type syncFixture struct {
	now      time.Time
	log      *callLog
	idp      *fakeIDP
	events   *fakeEvents
	enc      *crypto.Encryptor
	credRepo *memory.CredentialRepository
	store    *credential.Store
	appts    *memory.AppointmentRepository
	sessions *memory.VideoSessionRepository
	metrics  *metrics.CalendarMetrics
	svc      *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	ectx, err := crypto.NewEncryptionContext(bytes.Repeat([]byte{0x33}, crypto.KeySize))
	require.NoError(t, err)

	f := &syncFixture{now: t0, log: &callLog{}}
	clock := func() time.Time { return f.now }

	f.idp = &fakeIDP{log: f.log}
	f.events = &fakeEvents{log: f.log}
	f.enc = crypto.NewEncryptor(ectx)
	f.credRepo = memory.NewCredentialRepository()
	f.credRepo.Now = clock
	f.store = credential.NewStore(f.credRepo)
	f.store.SetClock(clock)
	f.appts = memory.NewAppointmentRepository()
	f.sessions = memory.NewVideoSessionRepository()
	f.metrics = metrics.NewCalendarMetrics()

	coord := auth.NewCoordinator(f.idp, auth.NewStateCodec([]byte("state-key")))
	tokens := auth.NewTokenProvider(f.store, f.enc, coord, f.metrics)

	f.svc = NewSyncService(f.appts, f.sessions, f.store, tokens, f.events,
		NewEventFormatter("https://meet.example.com/room"), f.metrics)
	f.svc.SetClock(clock)
	return f
}

func (f *syncFixture) connect(t *testing.T, partnerID int64, expiresAt time.Time) *domain.Credential {
	t.Helper()
	access, err := f.enc.Seal("access-" + fmt.Sprint(partnerID))
	require.NoError(t, err)
	refresh, err := f.enc.Seal("refresh-" + fmt.Sprint(partnerID))
	require.NoError(t, err)

	cred, err := f.store.Upsert(context.Background(), domain.Subject{Type: domain.SubjectPartner, ID: partnerID},
		credential.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: &expiresAt})
	require.NoError(t, err)
	return cred
}

func appointment(id, partnerID int64) *domain.Appointment {
	notes := "Bring intake form"
	return &domain.Appointment{
		ID:        id,
		PartnerID: partnerID,
		Title:     "Initial consult",
		StartTime: t0.Add(24 * time.Hour),
		EndTime:   t0.Add(25 * time.Hour),
		TimeZone:  "Europe/Berlin",
		Notes:     &notes,
	}
}

func videoSession(id, partnerID int64) *domain.VideoSession {
	room := "room-abc"
	return &domain.VideoSession{
		ID:            id,
		PartnerID:     partnerID,
		Title:         "Follow-up",
		StartTime:     t0.Add(48 * time.Hour),
		EndTime:       t0.Add(49 * time.Hour),
		MeetingRoomID: &room,
	}
}

// =============================================================================
// Sync
// =============================================================================

func TestSync_IdempotentCreate(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))

	first, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionCreated, first.Action)

	second, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionUpdated, second.Action)

	assert.Equal(t, 1, f.log.count("insert"))
	assert.Equal(t, 1, f.log.count("update"))
	assert.Equal(t, first.EventID, second.EventID)

	a, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, a.Sync.Status)
	require.NotNil(t, a.Sync.EventID)
	assert.Equal(t, first.EventID, *a.Sync.EventID)
	assert.Nil(t, a.Sync.Error)
	require.NotNil(t, a.Sync.LastSyncedAt)

	assert.Equal(t, int64(1), f.metrics.Outcomes.Get(metrics.OutcomeCreated))
	assert.Equal(t, int64(1), f.metrics.Outcomes.Get(metrics.OutcomeUpdated))
}

func TestSync_TouchesCredentialLastSynced(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))

	f.now = t0.Add(time.Minute)
	_, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)

	cred, err := f.store.Find(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 7})
	require.NoError(t, err)
	require.NotNil(t, cred.LastSyncedAt)
	assert.True(t, f.now.Equal(*cred.LastSyncedAt))
}

func TestSync_NotConnected(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.appts.Put(appointment(1, 7))

	res, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.NotConnected)
	assert.Equal(t, domain.SyncActionSkipped, res.Action)

	a, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusNotSynced, a.Sync.Status)
	require.NotNil(t, a.Sync.Error)
	assert.Equal(t, domain.NotConnectedReason, *a.Sync.Error)
	assert.Empty(t, f.log.calls)
}

func TestSync_DisabledIsNotConnected(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	cred := f.connect(t, 7, t0.Add(time.Hour))
	_, err := f.store.UpdateFields(ctx, cred.ID, map[domain.CredentialField]any{domain.FieldSyncEnabled: false})
	require.NoError(t, err)
	f.sessions.Put(videoSession(3, 7))

	res, err := f.svc.SyncVideoSessionToGoogle(ctx, 3)
	require.NoError(t, err)
	assert.True(t, res.NotConnected)
	assert.Empty(t, f.log.calls)
}

func TestSync_RefreshThenSync(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Minute))
	f.sessions.Put(videoSession(3, 7))

	newExpiry := t0.Add(time.Hour)
	f.idp.refreshed = &oauth2.Token{AccessToken: "fresh-access", Expiry: newExpiry}

	res, err := f.svc.SyncVideoSessionToGoogle(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionCreated, res.Action)

	assert.Equal(t, []string{"refresh", "insert"}, f.log.calls)
	assert.Equal(t, []string{"fresh-access"}, f.events.tokens)

	cred, err := f.store.Find(ctx, domain.Subject{Type: domain.SubjectPartner, ID: 7})
	require.NoError(t, err)
	require.NotNil(t, cred.TokenExpiresAt)
	assert.True(t, newExpiry.Equal(*cred.TokenExpiresAt))
}

func TestSync_RefreshFailureMarksFailed(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(-time.Hour))
	f.appts.Put(appointment(1, 7))
	f.idp.refreshErr = errors.New("invalid_grant")

	_, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeReauthRequired))

	a, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, a.Sync.Status)
	require.NotNil(t, a.Sync.Error)
	assert.Equal(t, ReconnectMessage, *a.Sync.Error)
	assert.Zero(t, f.log.count("insert"))
}

func TestSync_RemoteFailureThenRetry(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))

	f.events.insertErr = errors.New("googleapi: Error 503: backend unavailable")
	_, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeCalendarSyncFailed))

	a, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, a.Sync.Status)
	require.NotNil(t, a.Sync.Error)
	assert.Contains(t, *a.Sync.Error, "503")
	assert.Nil(t, a.Sync.EventID)

	f.events.insertErr = nil
	res, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionCreated, res.Action)

	a, err = f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, a.Sync.Status)
	assert.Nil(t, a.Sync.Error)
}

func TestSync_UpdateOfVanishedEventRecreates(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Hour))
	a := appointment(1, 7)
	stale := "evt_deleted_by_owner"
	a.Sync = domain.SyncState{Status: domain.SyncStatusSynced, EventID: &stale}
	f.appts.Put(a)
	f.events.updateErr = out.ErrEventNotFound

	res, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionCreated, res.Action)
	assert.NotEqual(t, stale, res.EventID)
	assert.Equal(t, []string{"update", "insert"}, f.log.calls)

	got, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, res.EventID, *got.Sync.EventID)
}

func TestSync_EntityMissing(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.SyncAppointmentToGoogle(context.Background(), 99)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = f.svc.SyncVideoSessionToGoogle(context.Background(), 99)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	assert.Empty(t, f.appts.Updates)
}

func TestSync_TamperedCredentialIsNotNotConnected(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.credRepo.Put(&out.CredentialEntity{
		SubjectType:          "partner",
		SubjectID:            7,
		EncryptedAccessToken: "00:11:22",
		SyncEnabled:          true,
	})
	f.appts.Put(appointment(1, 7))

	res, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, crypto.IsIntegrityError(err))

	a, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, a.Sync.Status)
}

func TestSync_UsesPartnerCredential(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	userID := int64(7)
	a := appointment(1, 8)
	a.UserID = &userID
	f.appts.Put(a)

	// a user credential with the same numeric id must not be used
	access, err := f.enc.Seal("user-access")
	require.NoError(t, err)
	exp := t0.Add(time.Hour)
	_, err = f.store.Upsert(ctx, domain.Subject{Type: domain.SubjectUser, ID: 8},
		credential.Tokens{AccessToken: access, ExpiresAt: &exp})
	require.NoError(t, err)

	res, err := f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.NotConnected)

	f.connect(t, 8, t0.Add(time.Hour))
	res, err = f.svc.SyncAppointmentToGoogle(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.NotConnected)
	assert.Equal(t, []string{"access-8"}, f.events.tokens)
}

func TestResolveSyncOwner(t *testing.T) {
	userID := int64(3)
	a := appointment(1, 8)
	a.UserID = &userID

	assert.Equal(t, domain.Subject{Type: domain.SubjectPartner, ID: 8}, ResolveSyncOwner(a))
	assert.Equal(t, domain.Subject{Type: domain.SubjectPartner, ID: 9}, ResolveSyncOwner(videoSession(2, 9)))
}

func TestSync_CustomOwnerPolicy(t *testing.T) {
	f := newSyncFixture(t)
	f.svc.SetOwnerPolicy(func(e domain.SyncableEntity) domain.Subject {
		return domain.Subject{Type: domain.SubjectUser, ID: 100}
	})
	f.appts.Put(appointment(1, 7))
	f.connect(t, 7, t0.Add(time.Hour))

	res, err := f.svc.SyncAppointmentToGoogle(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.NotConnected)
}

// =============================================================================
// Delete
// =============================================================================

func TestDelete_NoEventIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))

	res, err := f.svc.DeleteAppointmentFromGoogle(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionSkipped, res.Action)
	assert.Empty(t, f.log.calls)
	assert.Empty(t, f.appts.Updates)
}

func TestDelete_RemoteNotFoundIsSuccess(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.connect(t, 7, t0.Add(time.Hour))
	a := appointment(1, 7)
	id := "evt_1"
	a.Sync = domain.SyncState{Status: domain.SyncStatusSynced, EventID: &id}
	f.appts.Put(a)
	f.events.deleteErr = out.ErrEventNotFound

	res, err := f.svc.DeleteAppointmentFromGoogle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionDeleted, res.Action)

	got, err := f.appts.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.Sync.EventID)
	assert.Equal(t, domain.SyncStatusNotSynced, got.Sync.Status)
}

func TestDelete_NotConnectedIsSuccess(t *testing.T) {
	f := newSyncFixture(t)
	v := videoSession(3, 7)
	id := "evt_9"
	v.Sync = domain.SyncState{Status: domain.SyncStatusSynced, EventID: &id}
	f.sessions.Put(v)

	res, err := f.svc.DeleteVideoSessionFromGoogle(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, res.NotConnected)
	assert.Empty(t, f.log.calls)
}

func TestDelete_OtherErrorsPropagate(t *testing.T) {
	f := newSyncFixture(t)
	f.connect(t, 7, t0.Add(time.Hour))
	v := videoSession(3, 7)
	id := "evt_9"
	v.Sync = domain.SyncState{Status: domain.SyncStatusSynced, EventID: &id}
	f.sessions.Put(v)
	f.events.deleteErr = errors.New("googleapi: Error 500")

	_, err := f.svc.DeleteVideoSessionFromGoogle(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeCalendarSyncFailed))

	got, err := f.sessions.FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, id, *got.Sync.EventID)
}

// =============================================================================
// Hooks
// =============================================================================

func TestDomainHooks_SwallowErrors(t *testing.T) {
	f := newSyncFixture(t)
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))
	f.events.insertErr = errors.New("timeout")

	hooks := NewDomainHooks(f.svc)
	assert.NotPanics(t, func() {
		hooks.AppointmentSaved(context.Background(), 1)
		hooks.AppointmentDeleting(context.Background(), 1)
		hooks.VideoSessionSaved(context.Background(), 404)
		hooks.VideoSessionDeleting(context.Background(), 404)
	})

	a, err := f.appts.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, a.Sync.Status)
}

func TestDomainHooks_IgnoresCallerCancellation(t *testing.T) {
	f := newSyncFixture(t)
	f.connect(t, 7, t0.Add(time.Hour))
	f.appts.Put(appointment(1, 7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewDomainHooks(f.svc).AppointmentSaved(ctx, 1)
	assert.Equal(t, 1, f.log.count("insert"))
}
