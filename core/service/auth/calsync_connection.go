package auth

import (
	"context"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/core/port/out"
	"calsync_server/core/service/credential"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/logger"
)

var _ in.CalendarConnectionService = (*ConnectionService)(nil)

// ConnectionService is the connect/disconnect surface for a subject's calendar.
type ConnectionService struct {
	coordinator *Coordinator
	store       *credential.Store
	enc         *crypto.Encryptor
	ledger      out.StateLedger
}

// NewConnectionService wires the flow. ledger may be nil, in which case
// only the state age window protects against replay.
func NewConnectionService(coordinator *Coordinator, store *credential.Store, enc *crypto.Encryptor, ledger out.StateLedger) *ConnectionService {
	return &ConnectionService{
		coordinator: coordinator,
		store:       store,
		enc:         enc,
		ledger:      ledger,
	}
}

func (s *ConnectionService) GetAuthURL(ctx context.Context, subject domain.Subject) (string, error) {
	if !subject.Type.Valid() {
		return "", apperr.InvalidInput("subject_type", "must be user or partner")
	}
	if subject.ID <= 0 {
		return "", apperr.InvalidInput("subject_id", "must be positive")
	}
	return s.coordinator.BuildAuthorizationURL(subject)
}

func (s *ConnectionService) HandleOAuthCallback(ctx context.Context, code, state string) (*domain.ConnectionResult, error) {
	st, err := s.coordinator.DecodeState(state)
	if err != nil {
		logger.WithError(err).Warn("[ConnectionService.HandleOAuthCallback] Rejected state")
		return nil, err
	}

	if s.ledger != nil {
		first, err := s.ledger.MarkUsed(ctx, st.Nonce, domain.StateMaxAge)
		switch {
		case err != nil:
			// signed state and the age window still hold; the code itself is single-use upstream
			logger.WithError(err).Warn("[ConnectionService.HandleOAuthCallback] State ledger unavailable")
		case !first:
			return nil, apperr.InvalidState("already used")
		}
	}

	tokens, err := s.coordinator.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	access, err := s.enc.Seal(tokens.AccessToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	sealed := credential.Tokens{AccessToken: access, ExpiresAt: tokens.ExpiresAt}
	if tokens.RefreshToken != "" {
		if sealed.RefreshToken, err = s.enc.Seal(tokens.RefreshToken); err != nil {
			return nil, apperr.InternalWithError(err)
		}
	} else {
		logger.Warn("[ConnectionService.HandleOAuthCallback] No refresh token issued for %s", st.Subject)
	}

	cred, err := s.store.Upsert(ctx, st.Subject, sealed)
	if err != nil {
		return nil, err
	}

	logger.Info("[ConnectionService.HandleOAuthCallback] Calendar connected for %s", st.Subject)
	return &domain.ConnectionResult{
		Success:     true,
		SubjectType: st.Subject.Type,
		SubjectID:   st.Subject.ID,
		ConnectedAt: cred.ConnectedAt,
	}, nil
}

func (s *ConnectionService) DisconnectCalendar(ctx context.Context, subject domain.Subject) (bool, error) {
	deleted, err := s.store.Delete(ctx, subject)
	if err != nil {
		return false, err
	}
	if deleted {
		logger.Info("[ConnectionService.DisconnectCalendar] Disconnected %s", subject)
	}
	return deleted, nil
}

func (s *ConnectionService) SetSyncEnabled(ctx context.Context, subject domain.Subject, enabled bool) error {
	cred, err := s.store.Find(ctx, subject)
	if err != nil {
		return err
	}
	if cred == nil {
		return apperr.NotFound("calendar connection")
	}

	_, err = s.store.UpdateFields(ctx, cred.ID, map[domain.CredentialField]any{
		domain.FieldSyncEnabled: enabled,
	})
	return err
}

func (s *ConnectionService) GetConnectionStatus(ctx context.Context, subject domain.Subject) (*domain.ConnectionStatus, error) {
	cred, err := s.store.Find(ctx, subject)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &domain.ConnectionStatus{Connected: false}, nil
	}

	connectedAt := cred.ConnectedAt
	return &domain.ConnectionStatus{
		Connected:      true,
		SyncEnabled:    cred.SyncEnabled,
		CalendarID:     cred.CalendarID,
		ConnectedAt:    &connectedAt,
		LastSyncedAt:   cred.LastSyncedAt,
		TokenExpiresAt: cred.TokenExpiresAt,
		TokenExpired:   s.store.IsExpired(cred.TokenExpiresAt),
	}, nil
}

func (s *ConnectionService) IsTokenExpired(expiresAt *time.Time) bool {
	return s.store.IsExpired(expiresAt)
}
