package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
)

func TestBuildCredentialUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	synced := now.Add(-time.Minute)

	query, args, err := buildCredentialUpdate(42, map[string]any{
		"sync_enabled":   false,
		"last_synced_at": synced,
	}, now)
	require.NoError(t, err)

	assert.Contains(t, query, "UPDATE calendar_credentials SET last_synced_at = $1, sync_enabled = $2, updated_at = $3 WHERE id = $4 RETURNING")
	assert.Equal(t, []any{synced, false, now, int64(42)}, args)
}

func TestBuildCredentialUpdate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"empty", map[string]any{}},
		{"identity column", map[string]any{"subject_id": int64(9)}},
		{"injection", map[string]any{"calendar_id = 'x'; --": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildCredentialUpdate(1, tt.fields, time.Now())
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(sql.ErrNoRows), out.ErrNotFound)
	assert.ErrorIs(t, translate(fmt.Errorf("scan: %w", sql.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505"}), ErrDuplicate)

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}

func TestSyncColumnsToDomain(t *testing.T) {
	assert.Equal(t, domain.SyncStatusNotSynced, SyncColumns{}.toDomain().Status)

	id := "evt_1"
	s := SyncColumns{GoogleEventID: &id, GoogleSyncStatus: "synced"}.toDomain()
	assert.Equal(t, domain.SyncStatusSynced, s.Status)
	assert.True(t, s.HasEvent())
}

func TestRedisStateLedger(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ledger := NewRedisStateLedger(client)
	ctx := context.Background()
	nonce := uuid.NewString()

	first, err := ledger.MarkUsed(ctx, nonce, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := ledger.MarkUsed(ctx, nonce, time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	_, err = ledger.MarkUsed(ctx, "", time.Minute)
	assert.Error(t, err)
}
