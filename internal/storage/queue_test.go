package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueDeduplicatesActiveItems(t *testing.T) {
	store := newTestStore(t)

	added, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	assert.True(t, added)

	// Same image and type while the first is still pending.
	added, err = store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	assert.False(t, added)

	// A different processing type is independent work.
	added, err = store.Enqueue("img-1", ProcessingTextExtraction, 0)
	require.NoError(t, err)
	assert.True(t, added)

	stats, err := store.QueueStatistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func TestEnqueueAllowedAfterCompletion(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, store.MarkCompleted(items[0].ID))

	added, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestClaimPendingIncrementsAttempts(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)

	items, err := store.ClaimPending(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, StatusProcessing, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	assert.NotNil(t, items[0].StartedAt)

	// Already claimed, nothing left to hand out.
	items, err = store.ClaimPending(10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClaimPendingOrdersByPriorityThenAge(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-old", ProcessingAnalysis, 0)
	require.NoError(t, err)
	_, err = store.Enqueue("img-new", ProcessingAnalysis, 0)
	require.NoError(t, err)
	_, err = store.Enqueue("img-urgent", ProcessingAnalysis, 5)
	require.NoError(t, err)

	items, err := store.ClaimPending(2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "img-urgent", items[0].ImageID)
	assert.Equal(t, "img-old", items[1].ImageID)
}

func TestAttemptsNeverExceedMaxAttempts(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)

	var itemID string
	for i := 0; i < DefaultMaxAttempts; i++ {
		items, err := store.ClaimPending(1)
		require.NoError(t, err)
		require.Len(t, items, 1, "attempt %d", i+1)
		itemID = items[0].ID
		require.NoError(t, store.MarkFailed(itemID, "boom"))

		retried, err := store.RetryFailed(24 * time.Hour)
		require.NoError(t, err)
		if i < DefaultMaxAttempts-1 {
			assert.Equal(t, int64(1), retried)
		} else {
			assert.Zero(t, retried, "exhausted item must not be retried")
		}
	}

	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	assert.Empty(t, items)

	item, err := store.GetQueueItem(itemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, DefaultMaxAttempts, item.Attempts)
	assert.Equal(t, "boom", item.ErrorMessage)
}

func TestRetryFailedHonorsRecencyWindow(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, store.MarkFailed(items[0].ID, "boom"))

	// Age the item out of the retry window.
	_, err = store.db.Exec(`UPDATE queue_items SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-48*time.Hour), items[0].ID)
	require.NoError(t, err)

	retried, err := store.RetryFailed(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, retried)
}

func TestReclaimStaleProcessingItems(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Fresh processing items stay untouched.
	reclaimed, err := store.ReclaimStale(10 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	// Simulate a worker that died mid-item.
	_, err = store.db.Exec(`UPDATE queue_items SET started_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), items[0].ID)
	require.NoError(t, err)

	reclaimed, err = store.ReclaimStale(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	item, err := store.GetQueueItem(items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, StatusFailed, item.Status)

	// The reclaimed item flows back through the normal retry sweep.
	retried, err := store.RetryFailed(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), retried)
}

func TestPurgeTerminalRespectsRetention(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-done", ProcessingAnalysis, 0)
	require.NoError(t, err)
	_, err = store.Enqueue("img-active", ProcessingAnalysis, 0)
	require.NoError(t, err)

	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, store.MarkCompleted(items[0].ID))

	// Not old enough yet.
	purged, err := store.PurgeTerminal(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)

	_, err = store.db.Exec(`UPDATE queue_items SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-8*24*time.Hour), items[0].ID)
	require.NoError(t, err)

	purged, err = store.PurgeTerminal(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// Pending work is never purged, regardless of age.
	stats, err := store.QueueStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Zero(t, stats.Completed)
}

func TestQueueStatisticsCountsAndOldestAge(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)
	_, err = store.Enqueue("img-2", ProcessingAnalysis, 0)
	require.NoError(t, err)
	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, store.MarkFailed(items[0].ID, "boom"))

	stats, err := store.QueueStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
	assert.GreaterOrEqual(t, stats.OldestPendingAge, time.Duration(0))
}

func TestGetQueueItemMissingIsNil(t *testing.T) {
	store := newTestStore(t)

	item, err := store.GetQueueItem("nope")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestHasActiveItems(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue("img-1", ProcessingAnalysis, 0)
	require.NoError(t, err)

	active, err := store.HasActiveItems([]string{"img-1", "img-2"}, ProcessingAnalysis)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = store.HasActiveItems([]string{"img-2"}, ProcessingAnalysis)
	require.NoError(t, err)
	assert.False(t, active)

	items, err := store.ClaimPending(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, store.MarkCompleted(items[0].ID))

	active, err = store.HasActiveItems([]string{"img-1"}, ProcessingAnalysis)
	require.NoError(t, err)
	assert.False(t, active)
}
