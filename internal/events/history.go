package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// recordTimeout bounds a single insert made from an event callback.
	recordTimeout = 5 * time.Second
)

// ErrInvalidQuery is returned for history queries missing a required key.
var ErrInvalidQuery = errors.New("events: invalid history query")

// AttributeRecord is one stored attribute value.
type AttributeRecord struct {
	ID         int64     `json:"id"`
	AssetID    string    `json:"asset_id"`
	Attribute  string    `json:"attribute"`
	Value      any       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StatusRecord is one stored connection status transition.
type StatusRecord struct {
	ID            int64     `json:"id"`
	Configuration string    `json:"configuration"`
	Status        string    `json:"status"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// HistoryStore persists runtime events to the attribute_history and
// status_history tables. It is also an event sink.
type HistoryStore struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

var _ protocol.EventSink = (*HistoryStore)(nil)

// NewHistoryStore creates a store over an open, migrated database.
func NewHistoryStore(db *sql.DB, logger Logger) *HistoryStore {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryStore{db: db, logger: logger, now: time.Now}
}

// RecordAttribute stores a value as JSON. A nil value is stored as NULL.
func (s *HistoryStore) RecordAttribute(ctx context.Context, ref protocol.AttributeRef, value any, at time.Time) error {
	if ref.AssetID == "" || ref.Name == "" {
		return fmt.Errorf("%w: attribute reference is required", ErrInvalidQuery)
	}

	var encoded sql.NullString
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshalling attribute value: %w", err)
		}
		encoded = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attribute_history (asset_id, attribute, value, recorded_at) VALUES (?, ?, ?, ?)",
		ref.AssetID, ref.Name, encoded, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting attribute history: %w", err)
	}
	return nil
}

// RecordStatus stores a connection status transition.
func (s *HistoryStore) RecordStatus(ctx context.Context, configID string, status transport.Status, at time.Time) error {
	if configID == "" {
		return fmt.Errorf("%w: configuration id is required", ErrInvalidQuery)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO status_history (configuration_id, status, recorded_at) VALUES (?, ?, ?)",
		configID, status.String(), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

// AttributeHistory returns recent values of an attribute, newest first.
// limit defaults to 50 and is capped at 200.
func (s *HistoryStore) AttributeHistory(ctx context.Context, ref protocol.AttributeRef, limit int) ([]AttributeRecord, error) {
	if ref.AssetID == "" || ref.Name == "" {
		return nil, fmt.Errorf("%w: attribute reference is required", ErrInvalidQuery)
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, attribute, value, recorded_at
		 FROM attribute_history
		 WHERE asset_id = ? AND attribute = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		ref.AssetID, ref.Name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attribute history: %w", err)
	}
	defer rows.Close()

	records := make([]AttributeRecord, 0, limit)
	for rows.Next() {
		var rec AttributeRecord
		var value sql.NullString
		var recordedAt int64
		if err := rows.Scan(&rec.ID, &rec.AssetID, &rec.Attribute, &value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning attribute history: %w", err)
		}
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &rec.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling attribute value: %w", err)
			}
		}
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute history: %w", err)
	}
	return records, nil
}

// StatusHistory returns recent status transitions of a configuration,
// newest first. limit defaults to 50 and is capped at 200.
func (s *HistoryStore) StatusHistory(ctx context.Context, configID string, limit int) ([]StatusRecord, error) {
	if configID == "" {
		return nil, fmt.Errorf("%w: configuration id is required", ErrInvalidQuery)
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, configuration_id, status, recorded_at
		 FROM status_history
		 WHERE configuration_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		configID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	records := make([]StatusRecord, 0, limit)
	for rows.Next() {
		var rec StatusRecord
		var recordedAt int64
		if err := rows.Scan(&rec.ID, &rec.Configuration, &rec.Status, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return records, nil
}

// Prune deletes attribute and status records older than retention and
// returns the number of rows removed.
func (s *HistoryStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidQuery)
	}
	cutoff := s.now().Add(-retention).UnixMilli()

	var total int64
	for _, table := range []string{"attribute_history", "status_history"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", cutoff) //nolint:gosec // table names are constants
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("reading pruned rows: %w", err)
		}
		total += n
	}
	return total, nil
}

// AttributeUpdated implements protocol.EventSink.
func (s *HistoryStore) AttributeUpdated(ref protocol.AttributeRef, value any) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.RecordAttribute(ctx, ref, value, s.now()); err != nil {
		s.logger.Warn("failed to record attribute history", "attribute", ref.String(), "error", err)
	}
}

// ConnectionStatusChanged implements protocol.EventSink.
func (s *HistoryStore) ConnectionStatusChanged(configID string, status transport.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.RecordStatus(ctx, configID, status, s.now()); err != nil {
		s.logger.Warn("failed to record status history", "configuration", configID, "error", err)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
