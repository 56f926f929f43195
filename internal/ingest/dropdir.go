package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sstent/pedometer-bridge/internal/models"
	"github.com/sstent/pedometer-bridge/internal/parser"
)

const SourceDropDir = "dropdir"

// Ledger remembers which files were already imported.
type Ledger interface {
	IsImported(name string) (bool, error)
	MarkImported(file models.ImportedFile) error
}

// DropWatcher imports FIT monitoring files written into a directory once they
// stop changing.
type DropWatcher struct {
	dir    string
	sink   Sink
	ledger Ledger
	parser *parser.MonitoringParser
	opts   Options

	fsWatcher *fsnotify.Watcher

	// path -> last observed write
	pending   map[string]time.Time
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDropWatcher watches dir. ledger may be nil, in which case every stable
// file is imported each time it changes.
func NewDropWatcher(dir string, sink Sink, ledger Ledger, opts Options) (*DropWatcher, error) {
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DropWatcher{
		dir:       dir,
		sink:      sink,
		ledger:    ledger,
		parser:    parser.NewMonitoringParser(),
		opts:      opts,
		fsWatcher: fsWatcher,
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// Start creates the directory if needed, queues files already present and
// begins watching.
func (w *DropWatcher) Start(ctx context.Context) error {
	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	if err := w.fsWatcher.Add(absDir); err != nil {
		return fmt.Errorf("watch %s: %w", absDir, err)
	}
	w.dir = absDir

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && isFIT(entry.Name()) {
			w.track(filepath.Join(absDir, entry.Name()), time.Time{})
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop(ctx)

	w.opts.logger().Info("drop directory feed started", "dir", absDir)
	return nil
}

// Stop shuts the watcher down.
func (w *DropWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	return w.fsWatcher.Close()
}

func (w *DropWatcher) track(path string, at time.Time) {
	w.pendingMu.Lock()
	w.pending[path] = at
	w.pendingMu.Unlock()
}

func (w *DropWatcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isFIT(event.Name) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.track(event.Name, time.Now())

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.opts.logger().Warn("drop directory watch error", "error", err)
		}
	}
}

func (w *DropWatcher) settleLoop(ctx context.Context) {
	defer w.wg.Done()

	tick := w.opts.Settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.importStable(ctx, now)
		}
	}
}

func (w *DropWatcher) importStable(ctx context.Context, now time.Time) {
	threshold := now.Add(-w.opts.Settle)

	var stable []string
	w.pendingMu.Lock()
	for path, last := range w.pending {
		if last.Before(threshold) {
			stable = append(stable, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range stable {
		n, err := w.ImportFile(ctx, path)
		if err != nil {
			w.opts.logger().Warn("import dropped file failed", "file", filepath.Base(path), "error", err)
			continue
		}
		if n > 0 {
			w.opts.logger().Info("imported dropped file", "file", filepath.Base(path), "samples", n)
		}
	}
}

// ImportFile parses one monitoring file and records its samples, skipping files
// the ledger has seen. It returns the number of samples recorded.
func (w *DropWatcher) ImportFile(ctx context.Context, path string) (int, error) {
	name := filepath.Base(path)
	if w.ledger != nil {
		done, err := w.ledger.IsImported(name)
		if err != nil {
			return 0, err
		}
		if done {
			return 0, nil
		}
	}

	kind, err := parser.DetectFileType(path)
	if err != nil {
		return 0, err
	}
	if kind != parser.FileTypeFIT {
		w.opts.observe(SourceDropDir, OutcomeRejected)
		return 0, fmt.Errorf("%s: not a FIT file", name)
	}

	samples, err := w.parser.ParseFile(path)
	if err != nil {
		w.opts.observe(SourceDropDir, OutcomeRejected)
		return 0, err
	}
	for i, sample := range samples {
		if err := w.sink.RecordSteps(ctx, sample); err != nil {
			w.opts.observe(SourceDropDir, OutcomeFailed)
			return i, fmt.Errorf("record sample %d: %w", i, err)
		}
		w.opts.observe(SourceDropDir, OutcomeAccepted)
	}

	if w.ledger != nil {
		if err := w.ledger.MarkImported(models.ImportedFile{Name: name, Samples: len(samples), ImportedAt: w.opts.now()}); err != nil {
			return len(samples), err
		}
	}
	return len(samples), nil
}

func isFIT(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".fit")
}
