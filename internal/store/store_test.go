package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"camfeed/internal/motion"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndHistoryOrdering(t *testing.T) {
	s := openTest(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		evt := motion.MotionEvent{
			ID:            "evt" + string(rune('a'+i)),
			SourceID:      "cam1",
			Kind:          motion.EventMotion,
			TimestampWall: base.Add(time.Duration(i) * time.Second),
			IntensityPct:  float64(i),
		}
		require.NoError(t, s.Insert(evt))
	}

	records, total, err := s.History(Query{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, records, 3)
	require.GreaterOrEqual(t, records[0].TimestampMs, records[1].TimestampMs, "expected most-recent-first ordering")
}

func TestHistorySinceFilter(t *testing.T) {
	s := openTest(t)
	base := time.Now()

	old := motion.MotionEvent{ID: "old", SourceID: "cam1", TimestampWall: base.Add(-time.Hour)}
	recent := motion.MotionEvent{ID: "recent", SourceID: "cam1", TimestampWall: base}
	require.NoError(t, s.Insert(old))
	require.NoError(t, s.Insert(recent))

	records, total, err := s.History(Query{Limit: 10, SinceMs: base.Add(-time.Minute).UnixMilli()})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	require.Equal(t, "recent", records[0].ID)
}

func TestInsertDuplicateIDIgnored(t *testing.T) {
	s := openTest(t)
	evt := motion.MotionEvent{ID: "dup", SourceID: "cam1", TimestampWall: time.Now()}
	require.NoError(t, s.Insert(evt))
	require.NoError(t, s.Insert(evt), "duplicate insert should be a no-op, not an error")

	_, total, err := s.History(Query{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total, "duplicate insert should be a no-op")
}
