// internal/database/sqlite.go
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sstent/pedometer-bridge/internal/models"
)

// Database is the step history store.
type Database interface {
	InsertSample(sample models.StepSample) error
	InsertSamples(samples []models.StepSample) error
	Aggregate(from, to time.Time) (models.StepAggregate, error)
	PruneBefore(cutoff time.Time) (int64, error)

	MarkImported(file models.ImportedFile) error
	IsImported(name string) (bool, error)

	GetStats() (*models.StoreStats, error)
	Close() error
}

type SQLiteDB struct {
	db *sql.DB
}

// MemoryDSN returns a DSN for a private in-memory database.
func MemoryDSN() string {
	return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
}

// NewSQLiteDB opens dbPath, or a private in-memory database when dbPath is
// empty or ":memory:".
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	dsn := dbPath
	switch dbPath {
	case "", ":memory:":
		dsn = MemoryDSN()
	default:
		dsn = "file:" + dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection also keeps a shared
	// in-memory database alive for the life of the handle.
	db.SetMaxOpenConns(1)

	sqlite := &SQLiteDB{db: db}
	if err := sqlite.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return sqlite, nil
}

func (s *SQLiteDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS step_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		distance REAL,
		floors_ascended INTEGER,
		floors_descended INTEGER,
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_step_samples_at ON step_samples(at_ms);

	CREATE TABLE IF NOT EXISTS imported_files (
		name TEXT PRIMARY KEY,
		samples INTEGER NOT NULL,
		imported_at_ms INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const insertSample = `
	INSERT INTO step_samples (at_ms, steps, distance, floors_ascended, floors_descended, source)
	VALUES (?, ?, ?, ?, ?, ?)`

func sampleArgs(sample models.StepSample) []any {
	return []any{
		sample.At.UnixMilli(), sample.Steps,
		nullFloat(sample.Distance), nullInt(sample.FloorsAscended), nullInt(sample.FloorsDescended),
		sample.Source,
	}
}

func (s *SQLiteDB) InsertSample(sample models.StepSample) error {
	if sample.Steps < 0 {
		return fmt.Errorf("negative step count %d", sample.Steps)
	}
	_, err := s.db.Exec(insertSample, sampleArgs(sample)...)
	return err
}

// InsertSamples stores samples in one transaction.
func (s *SQLiteDB) InsertSamples(samples []models.StepSample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertSample)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sample := range samples {
		if sample.Steps < 0 {
			tx.Rollback()
			return fmt.Errorf("negative step count %d", sample.Steps)
		}
		if _, err := stmt.Exec(sampleArgs(sample)...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Aggregate sums samples recorded in [from, to].
func (s *SQLiteDB) Aggregate(from, to time.Time) (models.StepAggregate, error) {
	query := `
	SELECT COUNT(*), COALESCE(SUM(steps), 0), SUM(distance),
	       SUM(floors_ascended), SUM(floors_descended),
	       MIN(at_ms), MAX(at_ms)
	FROM step_samples
	WHERE at_ms >= ? AND at_ms <= ?`

	agg := models.StepAggregate{From: from, To: to}
	var (
		distance          sql.NullFloat64
		ascended, descend sql.NullInt64
		first, last       sql.NullInt64
	)
	err := s.db.QueryRow(query, from.UnixMilli(), to.UnixMilli()).Scan(
		&agg.Samples, &agg.Steps, &distance, &ascended, &descend, &first, &last,
	)
	if err != nil {
		return agg, err
	}
	if distance.Valid {
		agg.Distance = &distance.Float64
	}
	agg.FloorsAscended = intPtr(ascended)
	agg.FloorsDescended = intPtr(descend)
	if first.Valid {
		agg.First = time.UnixMilli(first.Int64)
	}
	if last.Valid {
		agg.Last = time.UnixMilli(last.Int64)
	}
	return agg, nil
}

// PruneBefore deletes samples older than cutoff and returns how many went.
func (s *SQLiteDB) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM step_samples WHERE at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteDB) MarkImported(file models.ImportedFile) error {
	if file.Name == "" {
		return errors.New("imported file needs a name")
	}
	at := file.ImportedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
	INSERT INTO imported_files (name, samples, imported_at_ms) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET samples = excluded.samples, imported_at_ms = excluded.imported_at_ms`,
		file.Name, file.Samples, at.UnixMilli())
	return err
}

func (s *SQLiteDB) IsImported(name string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM imported_files WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteDB) GetStats() (*models.StoreStats, error) {
	stats := &models.StoreStats{}
	var oldest, newest sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), MIN(at_ms), MAX(at_ms) FROM step_samples`).
		Scan(&stats.Samples, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64)
		stats.Oldest = &t
	}
	if newest.Valid {
		t := time.UnixMilli(newest.Int64)
		stats.Newest = &t
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM imported_files`).Scan(&stats.ImportedFiles); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
