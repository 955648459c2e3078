package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sensing/sentinel.vision/internal/db"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.MigrateUp())
	return NewEventStore(d.DB)
}

func storeEvent(id string, ts time.Time, label string) *vision.Event {
	return &vision.Event{
		ID:         id,
		Timestamp:  ts,
		FrameSeq:   42,
		Label:      label,
		Confidence: 0.9,
		Detections: []vision.Detection{
			{Label: label, Confidence: 0.9, Box: [4]float64{1, 2, 3, 4}},
		},
		Description: "test event",
	}
}

func TestEventStore_InsertAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := storeEvent(fmt.Sprintf("evt-%d", i), base.Add(time.Duration(i)*time.Minute), "person")
		require.NoError(t, store.Persist(ctx, ev))
	}

	events, err := store.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, "evt-4", events[0].ID)
	assert.Equal(t, "evt-2", events[2].ID)

	want := storeEvent("evt-4", base.Add(4*time.Minute), "person")
	if diff := cmp.Diff(*want, events[0]); diff != "" {
		t.Errorf("event round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEventStore_InsertRejectsNil(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertEvent(context.Background(), nil)
	assert.Error(t, err)
}

func TestEventStore_DuplicateIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := storeEvent("evt-dup", time.Now(), "person")
	require.NoError(t, store.InsertEvent(ctx, ev))
	assert.Error(t, store.InsertEvent(ctx, ev), "duplicate event ID should violate the primary key")
}

func TestEventStore_CountByLabel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertEvent(ctx, storeEvent(fmt.Sprintf("p-%d", i), now, "person")))
	}
	require.NoError(t, store.InsertEvent(ctx, storeEvent("c-0", now, "cat")))
	// Outside the window.
	require.NoError(t, store.InsertEvent(ctx, storeEvent("old-0", now.Add(-48*time.Hour), "person")))

	counts, err := store.CountByLabel(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "person", counts[0].Label)
	assert.Equal(t, int64(3), counts[0].Count)
	assert.Equal(t, "cat", counts[1].Label)
	assert.Equal(t, int64(1), counts[1].Count)
}

func TestEventStore_PruneEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.InsertEvent(ctx, storeEvent("old", now.Add(-2*time.Hour), "person")))
	require.NoError(t, store.InsertEvent(ctx, storeEvent("fresh", now, "person")))

	pruned, err := store.PruneEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	events, err := store.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].ID)
}
