package topics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTracker() (*Tracker, *time.Time) {
	tr := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestObserveAndTopics(t *testing.T) {
	tr, _ := testTracker()

	tr.Observe("t1", "Berlin", TTLLong, []string{"Berlin", "Germany"})
	tr.Observe("t1", "Berlin", TTLLong, []string{"Alexanderplatz"})

	infos := tr.Topics("t1")
	require.Len(t, infos, 1)
	assert.Equal(t, "Berlin", infos[0].Topic)
	assert.Equal(t, 2, infos[0].BatchCount)
	assert.ElementsMatch(t, []string{"Alexanderplatz", "Berlin", "Germany"}, infos[0].Entities)
	assert.False(t, infos[0].Stale)
}

func TestLatestTTLWins(t *testing.T) {
	tr, now := testTracker()

	tr.Observe("t1", "weather", TTLLong, nil)
	tr.Observe("t1", "weather", TTLShort, nil)

	*now = now.Add(31 * time.Minute)
	assert.True(t, tr.IsStale("t1", "weather"), "short TTL from the latest observation applies")
}

func TestIsStale(t *testing.T) {
	tr, now := testTracker()

	tr.Observe("t1", "lunch", TTLShort, nil)
	assert.False(t, tr.IsStale("t1", "lunch"))

	*now = now.Add(31 * time.Minute)
	assert.True(t, tr.IsStale("t1", "lunch"))

	assert.True(t, tr.IsStale("t1", "never-seen"))
	assert.True(t, tr.IsStale("t9", "lunch"))
}

func TestVerifyDoesNotCountBatch(t *testing.T) {
	tr, _ := testTracker()

	tr.Observe("t1", "project", TTLMedium, nil)
	tr.Verify("t1", "project")

	infos := tr.Topics("t1")
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].BatchCount)
}

func TestCleanup(t *testing.T) {
	tr, now := testTracker()

	tr.Observe("t1", "old", TTLShort, nil)
	*now = now.Add(25 * time.Hour)
	tr.Observe("t1", "fresh", TTLShort, nil)
	tr.Observe("t2", "stale-thread", TTLShort, nil)
	*now = now.Add(25 * time.Hour)

	removed := tr.Cleanup(24 * time.Hour)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, tr.Count())
}

func TestCleanupKeepsFresh(t *testing.T) {
	tr, now := testTracker()

	tr.Observe("t1", "old", TTLShort, nil)
	*now = now.Add(25 * time.Hour)
	tr.Observe("t1", "fresh", TTLShort, nil)

	removed := tr.Cleanup(0)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Count())
	require.Len(t, tr.Topics("t1"), 1)
	assert.Equal(t, "fresh", tr.Topics("t1")[0].Topic)
}

func TestCount(t *testing.T) {
	tr, _ := testTracker()
	assert.Equal(t, 0, tr.Count())

	tr.Observe("t1", "a", TTLShort, nil)
	tr.Observe("t1", "b", TTLShort, nil)
	tr.Observe("t2", "a", TTLShort, nil)
	assert.Equal(t, 3, tr.Count())
}
