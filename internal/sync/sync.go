package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sstent/pedometer-bridge/internal/garmin"
	"github.com/sstent/pedometer-bridge/internal/models"
	"github.com/sstent/pedometer-bridge/internal/parser"
)

// Wellness is the remote side of a sync.
type Wellness interface {
	ListMonitoringFiles(ctx context.Context, date time.Time) ([]garmin.MonitoringFile, error)
	DownloadMonitoringFile(ctx context.Context, fileID string) ([]byte, error)
}

// Store is the part of the history store a sync writes to.
type Store interface {
	InsertSamples(samples []models.StepSample) error
	MarkImported(file models.ImportedFile) error
	IsImported(name string) (bool, error)
}

// Result counts what one sync did.
type Result struct {
	Files    int
	Imported int
	Skipped  int
	Failed   int
	Samples  int
}

type SyncService struct {
	garminClient Wellness
	db           Store
	parser       *parser.MonitoringParser
	dataDir      string
	days         int
	now          func() time.Time
	log          *slog.Logger
	onImported   func()
}

type Option func(*SyncService)

// WithDays sets how many calendar days, today included, each sync walks.
func WithDays(days int) Option {
	return func(s *SyncService) {
		if days > 0 {
			s.days = days
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SyncService) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *SyncService) { s.log = log }
}

// WithOnImported registers fn to run after a sync that stored samples, even
// one that later failed.
func WithOnImported(fn func()) Option {
	return func(s *SyncService) { s.onImported = fn }
}

// NewSyncService builds a sync. When dataDir is set, downloaded files are kept
// under dataDir/monitoring.
func NewSyncService(garminClient Wellness, db Store, dataDir string, opts ...Option) *SyncService {
	s := &SyncService{
		garminClient: garminClient,
		db:           db,
		parser:       parser.NewMonitoringParser(),
		dataDir:      dataDir,
		days:         3,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SyncService) Sync(ctx context.Context) (Result, error) {
	var res Result
	startTime := s.now()
	s.log.Info("starting sync", "days", s.days)
	defer func() {
		s.log.Info("sync completed",
			"duration", time.Since(startTime),
			"files", res.Files, "imported", res.Imported, "skipped", res.Skipped,
			"failed", res.Failed, "samples", res.Samples)
		if res.Samples > 0 && s.onImported != nil {
			s.onImported()
		}
	}()

	today := startTime
	for i := s.days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i)
		files, err := s.garminClient.ListMonitoringFiles(ctx, date)
		if err != nil {
			return res, fmt.Errorf("failed to list monitoring files for %s: %w", date.Format("2006-01-02"), err)
		}

		for _, file := range files {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			default:
			}
			res.Files++

			n, skipped, err := s.syncFile(ctx, file)
			switch {
			case err != nil:
				res.Failed++
				// Continue with next file on error
				s.log.Warn("monitoring file sync failed", "file", file.FileName, "error", err)
			case skipped:
				res.Skipped++
			default:
				res.Imported++
				res.Samples += n
			}
		}
	}
	return res, nil
}

func (s *SyncService) syncFile(ctx context.Context, file garmin.MonitoringFile) (int, bool, error) {
	name := file.FileName
	if name == "" {
		name = file.FileID
	}
	done, err := s.db.IsImported(name)
	if err != nil {
		return 0, false, fmt.Errorf("check import ledger: %w", err)
	}
	if done {
		return 0, true, nil
	}

	data, err := s.garminClient.DownloadMonitoringFile(ctx, file.FileID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to download monitoring file: %w", err)
	}

	if s.dataDir != "" {
		path := filepath.Join(s.dataDir, "monitoring", filepath.Base(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return 0, false, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return 0, false, fmt.Errorf("failed to write file: %w", err)
		}
	}

	samples, err := s.parser.ParseData(data)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse monitoring file: %w", err)
	}
	for i := range samples {
		samples[i].Source = "garmin:" + name
	}
	if len(samples) > 0 {
		if err := s.db.InsertSamples(samples); err != nil {
			return 0, false, fmt.Errorf("failed to store samples: %w", err)
		}
	}
	if err := s.db.MarkImported(models.ImportedFile{Name: name, Samples: len(samples), ImportedAt: s.now()}); err != nil {
		return 0, false, fmt.Errorf("failed to mark imported: %w", err)
	}

	s.log.Debug("imported monitoring file", "file", name, "samples", len(samples))
	return len(samples), false, nil
}
