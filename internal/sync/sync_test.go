package sync

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"

	"github.com/sstent/pedometer-bridge/internal/database"
	"github.com/sstent/pedometer-bridge/internal/garmin"
)

type fakeWellness struct {
	files     map[string][]garmin.MonitoringFile
	data      map[string][]byte
	listErr   error
	downloads int
}

func (f *fakeWellness) ListMonitoringFiles(_ context.Context, date time.Time) ([]garmin.MonitoringFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files[date.Format("2006-01-02")], nil
}

func (f *fakeWellness) DownloadMonitoringFile(_ context.Context, id string) ([]byte, error) {
	f.downloads++
	data, ok := f.data[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func encodeMonitoring(t *testing.T, base time.Time, cycles ...uint32) []byte {
	t.Helper()
	file, err := fit.NewFile(fit.FileTypeMonitoringB, fit.NewHeader(fit.V20, true))
	require.NoError(t, err)
	mon, err := file.MonitoringB()
	require.NoError(t, err)
	for i, c := range cycles {
		m := fit.NewMonitoringMsg()
		m.Timestamp = base.Add(time.Duration(i) * 15 * time.Minute)
		m.ActivityType = fit.ActivityTypeWalking
		m.Cycles = c
		mon.Monitorings = append(mon.Monitorings, m)
	}
	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))
	return buf.Bytes()
}

func TestSyncImportsOnce(t *testing.T) {
	now := time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	wellness := &fakeWellness{
		files: map[string][]garmin.MonitoringFile{
			"2026-05-03": {{FileID: "1", FileName: "2026-05-03.fit"}},
			"2026-05-04": {{FileID: "2", FileName: "2026-05-04.fit"}, {FileID: "3", FileName: "broken.fit"}},
		},
		data: map[string][]byte{
			"1": encodeMonitoring(t, now.AddDate(0, 0, -1), 100, 250),
			"2": encodeMonitoring(t, now.Add(-4*time.Hour), 40),
			"3": []byte("garbage"),
		},
	}
	dataDir := t.TempDir()
	notified := 0
	svc := NewSyncService(wellness, db, dataDir, WithDays(2), WithClock(func() time.Time { return now }),
		WithOnImported(func() { notified++ }))

	res, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 3, Imported: 2, Failed: 1, Samples: 3}, res)
	assert.Equal(t, 1, notified)

	agg, err := db.Aggregate(now.AddDate(0, 0, -2), now)
	require.NoError(t, err)
	assert.Equal(t, 290, agg.Steps)

	_, err = os.Stat(filepath.Join(dataDir, "monitoring", "2026-05-03.fit"))
	assert.NoError(t, err)

	res, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Samples)
	assert.Equal(t, 4, wellness.downloads)
	assert.Equal(t, 1, notified, "a sync that stored nothing does not notify")
}

func TestSyncListFailure(t *testing.T) {
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	svc := NewSyncService(&fakeWellness{listErr: errors.New("unreachable")}, db, "")
	_, err = svc.Sync(context.Background())
	assert.ErrorContains(t, err, "unreachable")
}

func TestSyncHonoursCancellation(t *testing.T) {
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	wellness := &fakeWellness{files: map[string][]garmin.MonitoringFile{
		now.Format("2006-01-02"): {{FileID: "1", FileName: "a.fit"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewSyncService(wellness, db, "", WithDays(1), WithClock(func() time.Time { return now })).Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, wellness.downloads)
}
