package events

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
	"github.com/nerrad567/gray-logic-agent/migrations"
)

func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
		Migrations:  migrations.FS,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewHistoryStore(db.DB, nil)
}

func TestHistoryStore_AttributeHistoryNewestFirst(t *testing.T) {
	s := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordAttribute(ctx, lampLevel, 10, base))
	require.NoError(t, s.RecordAttribute(ctx, lampLevel, "on", base.Add(time.Second)))
	require.NoError(t, s.RecordAttribute(ctx, lampLevel, nil, base.Add(2*time.Second)))
	require.NoError(t, s.RecordAttribute(ctx, protocol.AttributeRef{AssetID: "lamp-2", Name: "level"}, 99, base))

	got, err := s.AttributeHistory(ctx, lampLevel, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Nil(t, got[0].Value, "cleared value")
	assert.Equal(t, "on", got[1].Value)
	assert.Equal(t, float64(10), got[2].Value)
	assert.Equal(t, base.Add(2*time.Second), got[0].RecordedAt)
	assert.Equal(t, "lamp-1", got[2].AssetID)
	assert.Equal(t, "level", got[2].Attribute)

	limited, err := s.AttributeHistory(ctx, lampLevel, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Nil(t, limited[0].Value)
}

func TestHistoryStore_StatusHistory(t *testing.T) {
	s := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordStatus(ctx, "plc", transport.StatusConnecting, base))
	require.NoError(t, s.RecordStatus(ctx, "plc", transport.StatusConnected, base.Add(time.Second)))

	got, err := s.StatusHistory(ctx, "plc", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CONNECTED", got[0].Status)
	assert.Equal(t, "CONNECTING", got[1].Status)
	assert.Equal(t, "plc", got[0].Configuration)

	none, err := s.StatusHistory(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistoryStore_InvalidQueries(t *testing.T) {
	s := newTestHistory(t)
	ctx := context.Background()

	_, err := s.AttributeHistory(ctx, protocol.AttributeRef{AssetID: "lamp-1"}, 10)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	_, err = s.StatusHistory(ctx, "", 10)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	assert.True(t, errors.Is(s.RecordAttribute(ctx, protocol.AttributeRef{}, 1, time.Now()), ErrInvalidQuery))
	assert.True(t, errors.Is(s.RecordStatus(ctx, "", transport.StatusError, time.Now()), ErrInvalidQuery))
	_, err = s.Prune(ctx, 0)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestHistoryStore_Prune(t *testing.T) {
	s := newTestHistory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour)
	require.NoError(t, s.RecordAttribute(ctx, lampLevel, 1, old))
	require.NoError(t, s.RecordStatus(ctx, "plc", transport.StatusConnected, old))
	require.NoError(t, s.RecordAttribute(ctx, lampLevel, 2, now))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.AttributeHistory(ctx, lampLevel, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(2), got[0].Value)
}

func TestHistoryStore_AsEventSink(t *testing.T) {
	s := newTestHistory(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	s.AttributeUpdated(lampLevel, map[string]any{"r": 1})
	s.ConnectionStatusChanged("plc", transport.StatusError)

	attrs, err := s.AttributeHistory(context.Background(), lampLevel, 0)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, map[string]any{"r": float64(1)}, attrs[0].Value)
	assert.Equal(t, at, attrs[0].RecordedAt)

	statuses, err := s.StatusHistory(context.Background(), "plc", 0)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "ERROR", statuses[0].Status)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultHistoryLimit, clampLimit(0))
	assert.Equal(t, defaultHistoryLimit, clampLimit(-3))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxHistoryLimit, clampLimit(5000))
}
