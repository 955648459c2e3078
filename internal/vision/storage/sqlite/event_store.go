// Package sqlite provides the persistence sink adapter for pipeline events.
// It is an adapter, not a domain layer: the pipeline only sees the EventSink
// contract, and persistence failures are best-effort by design.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/monitoring"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

// EventStore persists pipeline events to the events table.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore backed by the given database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Persist implements the pipeline's EventSink contract.
func (s *EventStore) Persist(ctx context.Context, event *vision.Event) error {
	return s.InsertEvent(ctx, event)
}

// InsertEvent writes one event. The detection set is stored as JSON: it is
// read back whole for reporting, never queried field-by-field.
func (s *EventStore) InsertEvent(ctx context.Context, event *vision.Event) error {
	if event == nil {
		return fmt.Errorf("nil event")
	}
	detections, err := json.Marshal(event.Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, ts_unix_nanos, frame_seq, label, confidence, detections, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.UnixNano(),
		event.FrameSeq,
		event.Label,
		event.Confidence,
		string(detections),
		event.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *EventStore) RecentEvents(ctx context.Context, limit int) ([]vision.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts_unix_nanos, frame_seq, label, confidence, detections, description
		FROM events ORDER BY ts_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []vision.Event
	for rows.Next() {
		var (
			e          vision.Event
			tsNanos    int64
			detections string
		)
		if err := rows.Scan(&e.ID, &tsNanos, &e.FrameSeq, &e.Label, &e.Confidence, &detections, &e.Description); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, tsNanos)
		if err := json.Unmarshal([]byte(detections), &e.Detections); err != nil {
			monitoring.Logf("EventStore: skipping malformed detections for event %s: %v", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LabelCount is one row of the per-label event aggregate.
type LabelCount struct {
	Label string
	Count int64
}

// CountByLabel aggregates events per label since the given time.
func (s *EventStore) CountByLabel(ctx context.Context, since time.Time) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) FROM events
		WHERE ts_unix_nanos >= ?
		GROUP BY label ORDER BY COUNT(*) DESC`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}

// PruneEvents deletes events older than the TTL and returns how many rows
// were removed. Run periodically by the host to bound storage growth.
func (s *EventStore) PruneEvents(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts_unix_nanos < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		monitoring.Logf("EventStore: pruned %d events older than %v", pruned, ttl)
	}
	return pruned, nil
}
