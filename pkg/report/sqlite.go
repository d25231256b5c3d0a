package report

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	watermark    TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	polls        INTEGER NOT NULL,
	partial      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	run_id              TEXT NOT NULL,
	epc                 TEXT NOT NULL,
	tag_id              TEXT,
	job_id              TEXT,
	x_location          REAL,
	y_location          REAL,
	z_location          REAL,
	zone                TEXT,
	floor               TEXT,
	presence_confidence TEXT,
	facility            TEXT,
	last_modified_time  TEXT,
	PRIMARY KEY (run_id, epc)
);`

const upsertRun = `INSERT INTO runs (run_id, job_id, watermark, started_at, completed_at, polls, partial)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET job_id=excluded.job_id, watermark=excluded.watermark,
started_at=excluded.started_at, completed_at=excluded.completed_at, polls=excluded.polls, partial=excluded.partial`

const upsertItem = `INSERT INTO items (run_id, epc, tag_id, job_id, x_location, y_location, z_location,
zone, floor, presence_confidence, facility, last_modified_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, epc) DO UPDATE SET tag_id=excluded.tag_id, job_id=excluded.job_id,
x_location=excluded.x_location, y_location=excluded.y_location, z_location=excluded.z_location,
zone=excluded.zone, floor=excluded.floor, presence_confidence=excluded.presence_confidence,
facility=excluded.facility, last_modified_time=excluded.last_modified_time`

// SQLiteSink stores reports in a local SQLite database.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("report: sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "report: create dir %s failed", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "report: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "report: create sqlite schema failed")
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func configureSQLite(db *sql.DB) error {
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "report: execute %s failed", pragma)
		}
	}
	return nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *SQLiteSink) Path() string { return s.path }

// Save implements Sink. The run row and all item rows are written in
// one transaction.
func (s *SQLiteSink) Save(ctx context.Context, r *Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "report: begin sqlite tx failed")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertRun,
		r.RunID, r.JobID,
		r.Watermark.UTC().Format(time.RFC3339Nano),
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.CompletedAt.UTC().Format(time.RFC3339Nano),
		r.Polls, r.Partial,
	); err != nil {
		return errors.Wrap(err, "report: sqlite insert run failed")
	}

	stmt, err := tx.PrepareContext(ctx, upsertItem)
	if err != nil {
		return errors.Wrap(err, "report: prepare sqlite insert failed")
	}
	defer stmt.Close()

	for _, it := range r.Items {
		if _, err := stmt.ExecContext(ctx,
			r.RunID, it.EPC, it.TagID, it.JobID,
			it.XLocation, it.YLocation, it.ZLocation,
			it.Zone, it.Floor, it.PresenceConfidence, it.Facility, it.LastModifiedTime,
		); err != nil {
			return errors.Wrapf(err, "report: sqlite insert item %s failed", it.EPC)
		}
	}

	return errors.Wrap(tx.Commit(), "report: commit sqlite tx failed")
}

// Items returns the stored items of a run ordered by EPC.
func (s *SQLiteSink) Items(ctx context.Context, runID string) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT epc, tag_id, job_id, x_location, y_location, z_location,
zone, floor, presence_confidence, facility, last_modified_time FROM items WHERE run_id = ? ORDER BY epc`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "report: query sqlite items failed")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.EPC, &it.TagID, &it.JobID, &it.XLocation, &it.YLocation, &it.ZLocation,
			&it.Zone, &it.Floor, &it.PresenceConfidence, &it.Facility, &it.LastModifiedTime); err != nil {
			return nil, errors.Wrap(err, "report: scan sqlite item failed")
		}
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "report: iterate sqlite items failed")
}

// Run returns the stored metadata of a run without its items.
func (s *SQLiteSink) Run(ctx context.Context, runID string) (*Report, error) {
	var (
		r                                 Report
		watermark, startedAt, completedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT run_id, job_id, watermark, started_at, completed_at, polls, partial
FROM runs WHERE run_id = ?`, runID).Scan(&r.RunID, &r.JobID, &watermark, &startedAt, &completedAt, &r.Polls, &r.Partial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "report: query sqlite run failed")
	}
	r.Watermark, _ = time.Parse(time.RFC3339Nano, watermark)
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
	return &r, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
