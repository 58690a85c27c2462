package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotra/quotra/errors"
	qtest "github.com/quotra/quotra/internal/testing"
	"github.com/quotra/quotra/internal/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(qtest.CreateTestDB(t))
}

func deltaRecord(sourceID, key string, fields map[string]interface{}, delta DeltaType) *DeltaRecord {
	return &DeltaRecord{
		NormalizedRecord: &NormalizedRecord{
			SourceID:   sourceID,
			NaturalKey: key,
			Fields:     fields,
		},
		PrimaryKey: RecordKey(sourceID, key),
		Checksum:   FieldChecksum(fields, []string{"price"}),
		Delta:      delta,
	}
}

func TestUpsertRecordInsertAndRead(t *testing.T) {
	store := newTestStore(t)
	rec := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(67000.5)}, DeltaNew)

	require.NoError(t, store.UpsertRecord(rec, "run-1", time.Now()))

	got, err := store.GetRecord("coingecko:bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "coingecko", got.SourceID)
	assert.Equal(t, "bitcoin", got.NaturalKey)
	assert.Equal(t, DeltaNew, got.Delta)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, float64(67000.5), got.Fields["price"])
}

func TestUpsertRecordIdempotentRetry(t *testing.T) {
	store := newTestStore(t)
	rec := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(1)}, DeltaNew)

	now := time.Now()
	require.NoError(t, store.UpsertRecord(rec, "run-1", now))
	require.NoError(t, store.UpsertRecord(rec, "run-1", now))

	records, err := store.ListRecordsBySource("coingecko", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestUpsertRecordUpdatePreservesFirstSeen(t *testing.T) {
	store := newTestStore(t)

	first := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(1)}, DeltaNew)
	earlier := time.Now().Add(-time.Hour)
	require.NoError(t, store.UpsertRecord(first, "run-1", earlier))

	updated := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(2)}, DeltaUpdated)
	later := time.Now()
	require.NoError(t, store.UpsertRecord(updated, "run-2", later))

	got, err := store.GetRecord("coingecko:bitcoin")
	require.NoError(t, err)
	assert.Equal(t, DeltaUpdated, got.Delta)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, float64(2), got.Fields["price"])
	assert.True(t, got.FirstSeenAt.Before(got.UpdatedAt),
		"first_seen_at should keep the original insert time")
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord("coingecko:nonexistent")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestPriorChecksumsReturnsOnlyPersistedKeys(t *testing.T) {
	store := newTestStore(t)
	rec := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(1)}, DeltaNew)
	require.NoError(t, store.UpsertRecord(rec, "run-1", time.Now()))

	prior, err := store.PriorChecksums("coingecko", []string{
		"coingecko:bitcoin",
		"coingecko:ethereum",
	})
	require.NoError(t, err)
	require.Len(t, prior, 1)
	assert.Equal(t, rec.Checksum, prior["coingecko:bitcoin"])
}

func TestPriorChecksumsScopedToSource(t *testing.T) {
	store := newTestStore(t)
	rec := deltaRecord("coingecko", "bitcoin", map[string]interface{}{"price": float64(1)}, DeltaNew)
	require.NoError(t, store.UpsertRecord(rec, "run-1", time.Now()))

	prior, err := store.PriorChecksums("binance", []string{"coingecko:bitcoin"})
	require.NoError(t, err)
	assert.Empty(t, prior)
}

func TestPriorChecksumsLargeBatchSpansChunks(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	total := priorLookupChunkSize*2 + 50
	keys := make([]string, 0, total)
	for i := 0; i < total; i++ {
		key := fmt.Sprintf("coin-%04d", i)
		rec := deltaRecord("coingecko", key, map[string]interface{}{"price": float64(i)}, DeltaNew)
		require.NoError(t, store.UpsertRecord(rec, "run-1", now))
		keys = append(keys, rec.PrimaryKey)
	}

	prior, err := store.PriorChecksums("coingecko", keys)
	require.NoError(t, err)
	assert.Len(t, prior, total)
}

func TestPriorChecksumsEmptyKeyList(t *testing.T) {
	store := newTestStore(t)

	prior, err := store.PriorChecksums("coingecko", nil)
	require.NoError(t, err)
	assert.Empty(t, prior)
}

func TestAddCountersCreatesThenAccumulates(t *testing.T) {
	store := newTestStore(t)

	firstRun := time.Now().Add(-time.Minute)
	require.NoError(t, store.AddCounters("coingecko", 100, 100, 100, firstRun))

	c, err := store.GetCounters("coingecko")
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.ExtractCount)
	assert.Equal(t, int64(100), c.TransformCount)
	assert.Equal(t, int64(100), c.LoadCount)
	require.NotNil(t, c.LastRunAt)

	secondRun := time.Now()
	require.NoError(t, store.AddCounters("coingecko", 100, 1, 1, secondRun))

	c, err = store.GetCounters("coingecko")
	require.NoError(t, err)
	assert.Equal(t, int64(200), c.ExtractCount)
	assert.Equal(t, int64(101), c.TransformCount)
	assert.Equal(t, int64(101), c.LoadCount)
	assert.True(t, c.LastRunAt.After(firstRun.Add(-time.Second)))
}

func TestAddCountersZeroRunStillAdvancesLastRun(t *testing.T) {
	store := newTestStore(t)

	earlier := time.Now().Add(-time.Hour)
	require.NoError(t, store.AddCounters("coingecko", 50, 50, 50, earlier))

	later := time.Now()
	require.NoError(t, store.AddCounters("coingecko", 0, 0, 0, later))

	c, err := store.GetCounters("coingecko")
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.ExtractCount)
	assert.Equal(t, int64(50), c.TransformCount)
	assert.Equal(t, int64(50), c.LoadCount)
	require.NotNil(t, c.LastRunAt)
	assert.True(t, c.LastRunAt.After(earlier))
}

func TestGetCountersNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCounters("unknown")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListCountersSortedBySource(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.AddCounters("binance", 1, 1, 1, now))
	require.NoError(t, store.AddCounters("coingecko", 2, 2, 2, now))

	all, err := store.ListCounters()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "binance", all[0].SourceID)
	assert.Equal(t, "coingecko", all[1].SourceID)
}

func TestRecordRunRoundTrip(t *testing.T) {
	store := newTestStore(t)

	started := time.Now().Add(-2 * time.Second)
	run := &Run{
		ID:             "run-1",
		SourceID:       "coingecko",
		Status:         RunStatusCompleted,
		HTTPStatus:     200,
		DurationMs:     1234,
		RawPayload:     []byte(`[{"id":"bitcoin"}]`),
		ExtractCount:   100,
		NewCount:       100,
		UnchangedCount: 0,
		LoadCount:      100,
		StartedAt:      started,
		CompletedAt:    util.Ptr(time.Now()),
	}
	require.NoError(t, store.RecordRun(run))

	runs, err := store.ListRuns("coingecko", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.Equal(t, 200, got.HTTPStatus)
	assert.Equal(t, 100, got.ExtractCount)
	assert.Equal(t, 100, got.NewCount)
	assert.Equal(t, []byte(`[{"id":"bitcoin"}]`), got.RawPayload)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestRecordFailedRunKeepsError(t *testing.T) {
	store := newTestStore(t)

	run := &Run{
		ID:          "run-err",
		SourceID:    "binance",
		Status:      RunStatusFailed,
		HTTPStatus:  503,
		Error:       "fetch failed: status 503",
		StartedAt:   time.Now(),
		CompletedAt: util.Ptr(time.Now()),
	}
	require.NoError(t, store.RecordRun(run))

	runs, err := store.ListRuns("binance", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, 503, runs[0].HTTPStatus)
	assert.Contains(t, runs[0].Error, "503")
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		run := &Run{
			ID:        fmt.Sprintf("run-%d", i),
			SourceID:  "coingecko",
			Status:    RunStatusCompleted,
			StartedAt: time.Now().Add(time.Duration(i-3) * time.Hour),
		}
		require.NoError(t, store.RecordRun(run))
	}

	runs, err := store.ListRuns("coingecko", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestCleanupOldRuns(t *testing.T) {
	store := newTestStore(t)

	old := &Run{
		ID:        "run-old",
		SourceID:  "coingecko",
		Status:    RunStatusCompleted,
		StartedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := &Run{
		ID:        "run-recent",
		SourceID:  "coingecko",
		Status:    RunStatusCompleted,
		StartedAt: time.Now(),
	}
	require.NoError(t, store.RecordRun(old))
	require.NoError(t, store.RecordRun(recent))

	deleted, err := store.CleanupOldRuns(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	runs, err := store.ListRuns("coingecko", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-recent", runs[0].ID)
}
