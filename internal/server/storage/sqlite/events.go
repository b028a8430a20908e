package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hookline/hookline/internal/models"
)

const eventColumns = `tx_hash, block_height, block_hash, resource, event_type,
       topic, payload, metadata, success, timestamp`

// Append inserts the event if no event with the same transaction hash
// exists yet. Insert-if-absent is expressed at the storage layer
// (INSERT OR IGNORE) so concurrent writers need no application-level
// locking. Returns true when the event was actually inserted.
func (s *Storage) Append(ctx context.Context, event *models.NormalizedEvent) (bool, error) {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT OR IGNORE INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, query,
		event.TxHash,
		event.BlockHeight,
		event.BlockHash,
		event.Resource,
		event.EventType,
		event.Topic,
		[]byte(event.Payload),
		metadata,
		boolToInt(event.Success),
		event.Timestamp.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Duplicate transaction hash, idempotent no-op
		return false, nil
	}

	for position, entity := range event.AffectedEntities {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_entities (tx_hash, entity, position) VALUES (?, ?, ?)`,
			event.TxHash, entity, position,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert event entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit event: %w", err)
	}

	return true, nil
}

// AppendBatch inserts each event independently: duplicates are skipped, not
// errors. Returns the count actually inserted.
func (s *Storage) AppendBatch(ctx context.Context, events []*models.NormalizedEvent) (int, error) {
	inserted := 0
	for _, event := range events {
		ok, err := s.Append(ctx, event)
		if err != nil {
			return inserted, fmt.Errorf("failed to append event %s: %w", event.TxHash, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// ListRecent returns up to limit events, block height descending then
// timestamp descending.
func (s *Storage) ListRecent(ctx context.Context, limit int) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		ORDER BY block_height DESC, timestamp DESC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, limit)
}

// ListByResource returns events for one contract, most recent first.
func (s *Storage) ListByResource(ctx context.Context, resource string, limit int) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE resource = ?
		ORDER BY block_height DESC, timestamp DESC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, resource, limit)
}

// ListByEntity returns events affecting one principal, most recent first.
func (s *Storage) ListByEntity(ctx context.Context, entity string, limit int) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE tx_hash IN (SELECT tx_hash FROM event_entities WHERE entity = ?)
		ORDER BY block_height DESC, timestamp DESC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, entity, limit)
}

// ListByEventType returns events of one type, most recent first.
func (s *Storage) ListByEventType(ctx context.Context, eventType string, limit int) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE event_type = ?
		ORDER BY block_height DESC, timestamp DESC
		LIMIT ?
	`
	return s.queryEvents(ctx, query, eventType, limit)
}

// ListByBlockRange returns events with from <= height <= to in ascending
// block order.
func (s *Storage) ListByBlockRange(ctx context.Context, from, to uint64) ([]*models.NormalizedEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE block_height >= ? AND block_height <= ?
		ORDER BY block_height ASC, timestamp ASC
	`
	return s.queryEvents(ctx, query, from, to)
}

// DeleteByBlockHeights removes every event at the given heights. Entity
// rows go with them via ON DELETE CASCADE.
func (s *Storage) DeleteByBlockHeights(ctx context.Context, heights []uint64) (int, error) {
	if len(heights) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(heights))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(heights))
	for i, h := range heights {
		args[i] = h
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE block_height IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events by block heights: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// SweepOlderThan removes events older than the retention horizon.
func (s *Storage) SweepOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < ?`, horizon.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep old events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// Count returns the number of stored events.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (s *Storage) queryEvents(ctx context.Context, query string, args ...any) ([]*models.NormalizedEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*models.NormalizedEvent

	for rows.Next() {
		event := &models.NormalizedEvent{}
		var payload, metadata []byte
		var success int
		var timestamp int64

		err := rows.Scan(
			&event.TxHash,
			&event.BlockHeight,
			&event.BlockHash,
			&event.Resource,
			&event.EventType,
			&event.Topic,
			&payload,
			&metadata,
			&success,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Payload = payload
		event.Success = intToBool(success)
		event.Timestamp = time.Unix(timestamp, 0).UTC()

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for _, event := range events {
		entities, err := s.loadEntities(ctx, event.TxHash)
		if err != nil {
			return nil, err
		}
		event.AffectedEntities = entities
	}

	return events, nil
}

func (s *Storage) loadEntities(ctx context.Context, txHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity FROM event_entities WHERE tx_hash = ? ORDER BY position ASC`, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query event entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entities []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entities, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	return data, nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
