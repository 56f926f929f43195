package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/pedometer-bridge/internal/models"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func TestAggregateSumsRange(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertSamples([]models.StepSample{
		{At: base, Steps: 10, Distance: ptr(7.5), Source: "mqtt"},
		{At: base.Add(time.Minute), Steps: 20, FloorsAscended: ptr(1), Source: "mqtt"},
		{At: base.Add(2 * time.Minute), Steps: 30, Distance: ptr(22.5)},
		{At: base.Add(time.Hour), Steps: 1000},
	}))

	agg, err := db.Aggregate(base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Samples)
	assert.Equal(t, 60, agg.Steps)
	require.NotNil(t, agg.Distance)
	assert.InDelta(t, 30.0, *agg.Distance, 1e-9)
	require.NotNil(t, agg.FloorsAscended)
	assert.Equal(t, 1, *agg.FloorsAscended)
	assert.Nil(t, agg.FloorsDescended)
	assert.True(t, agg.First.Equal(base))
	assert.True(t, agg.Last.Equal(base.Add(2*time.Minute)))
}

func TestAggregateEmptyRange(t *testing.T) {
	db := newTestDB(t)

	agg, err := db.Aggregate(time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	assert.True(t, agg.Empty())
	assert.Equal(t, 0, agg.Steps)
	assert.Nil(t, agg.Distance)
	assert.True(t, agg.First.IsZero())
}

func TestInsertRejectsNegativeSteps(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, db.InsertSample(models.StepSample{At: time.Now(), Steps: -1}))
	assert.Error(t, db.InsertSamples([]models.StepSample{{At: time.Now(), Steps: 3}, {At: time.Now(), Steps: -3}}))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Samples)
}

func TestPruneBefore(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	require.NoError(t, db.InsertSample(models.StepSample{At: now.Add(-48 * time.Hour), Steps: 5}))
	require.NoError(t, db.InsertSample(models.StepSample{At: now, Steps: 6}))

	n, err := db.PruneBefore(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)
	require.NotNil(t, stats.Oldest)
	assert.Equal(t, now.UnixMilli(), stats.Oldest.UnixMilli())
}

func TestImportedFiles(t *testing.T) {
	db := newTestDB(t)

	ok, err := db.IsImported("2026-05-04-monitor.fit")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.MarkImported(models.ImportedFile{Name: "2026-05-04-monitor.fit", Samples: 12}))
	require.NoError(t, db.MarkImported(models.ImportedFile{Name: "2026-05-04-monitor.fit", Samples: 14}))
	ok, err = db.IsImported("2026-05-04-monitor.fit")
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImportedFiles)

	assert.Error(t, db.MarkImported(models.ImportedFile{}))
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	a := newTestDB(t)
	b := newTestDB(t)
	require.NoError(t, a.InsertSample(models.StepSample{At: time.Now(), Steps: 1}))

	stats, err := b.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Samples)
}
