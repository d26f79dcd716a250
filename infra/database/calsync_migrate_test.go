package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	subFS, err := Migrations()
	require.NoError(t, err)

	names, err := fs.Glob(subFS, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{
		"00001_calendar_credentials.sql",
		"00002_entity_sync_columns.sql",
	}, names)

	for _, name := range names {
		body, err := fs.ReadFile(subFS, name)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "-- +goose Up"), name)
		assert.True(t, strings.Contains(string(body), "-- +goose Down"), name)
	}
}

func TestMigrations_CredentialUniqueness(t *testing.T) {
	subFS, err := Migrations()
	require.NoError(t, err)

	body, err := fs.ReadFile(subFS, "00001_calendar_credentials.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE (subject_type, subject_id)")
}

func TestDefaultPostgresConfig(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "32")
	assert.Equal(t, int32(32), DefaultPostgresConfig().MaxConns)

	t.Setenv("DB_MAX_CONNS", "nope")
	assert.Equal(t, int32(10), DefaultPostgresConfig().MaxConns)
}
