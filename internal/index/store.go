// Package index keeps the SQLite ledger of recorded sessions and their
// analysis state. The recorder daemon inserts a row when a session ends;
// the analyzer daemon moves rows from pending to summarized or failed;
// the retention cleaner prunes old rows together with their files.
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Analysis states a recording moves through.
const (
	AnalysisPending    = "pending"
	AnalysisSummarized = "summarized"
	AnalysisFailed     = "failed"
	AnalysisSkipped    = "skipped"
)

// Recording is one indexed session.
type Recording struct {
	ID            string
	OutputPath    string
	StartedAt     time.Time
	StoppedAt     time.Time
	DurationMs    int64
	SizeBytes     int64
	Backend       string
	StopReason    string
	Clean         bool
	AnalysisState string
	SummaryPath   string
	AnalyzedAt    time.Time // zero until analyzed
	AnalysisError string
}

// Stats summarizes the index for status output.
type Stats struct {
	Total      int
	Pending    int
	Summarized int
	Failed     int
	Skipped    int
}

// Store manages the recordings database. Safe for use from the recorder
// and analyzer daemons at the same time: WAL mode plus busy-timeout at the
// connection level, contention retries at the operation level.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		id             TEXT PRIMARY KEY,
		output_path    TEXT NOT NULL UNIQUE,
		started_at     TEXT NOT NULL,
		stopped_at     TEXT NOT NULL,
		duration_ms    INTEGER NOT NULL DEFAULT 0,
		size_bytes     INTEGER NOT NULL DEFAULT 0,
		backend        TEXT NOT NULL DEFAULT '',
		stop_reason    TEXT NOT NULL DEFAULT '',
		clean          INTEGER NOT NULL DEFAULT 0,
		analysis_state TEXT NOT NULL DEFAULT 'pending',
		summary_path   TEXT NOT NULL DEFAULT '',
		analyzed_at    TEXT NOT NULL DEFAULT '',
		analysis_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_state ON recordings(analysis_state);
	CREATE INDEX IF NOT EXISTS idx_recordings_stopped ON recordings(stopped_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or refreshes a recording row. The session fields are
// replaced on conflict; the analysis fields are left alone so a re-insert
// (backfill rediscovering a file) never clobbers a finished analysis.
func (s *Store) Upsert(rec Recording) error {
	state := rec.AnalysisState
	if state == "" {
		state = AnalysisPending
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO recordings
			   (id, output_path, started_at, stopped_at, duration_ms, size_bytes,
			    backend, stop_reason, clean, analysis_state, summary_path, analyzed_at, analysis_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   output_path = excluded.output_path,
			   stopped_at  = excluded.stopped_at,
			   duration_ms = excluded.duration_ms,
			   size_bytes  = excluded.size_bytes,
			   backend     = excluded.backend,
			   stop_reason = excluded.stop_reason,
			   clean       = excluded.clean`,
			rec.ID, rec.OutputPath, formatTime(rec.StartedAt), formatTime(rec.StoppedAt),
			rec.DurationMs, rec.SizeBytes, rec.Backend, rec.StopReason, boolToInt(rec.Clean),
			state, rec.SummaryPath, formatTime(rec.AnalyzedAt), rec.AnalysisError,
		)
		return err
	})
}

// Get retrieves a recording by session ID.
func (s *Store) Get(id string) (*Recording, error) {
	row := s.db.QueryRow(selectColumns+` FROM recordings WHERE id = ?`, id)
	return scanRecording(row)
}

// GetByPath retrieves a recording by its output file path.
func (s *Store) GetByPath(path string) (*Recording, error) {
	row := s.db.QueryRow(selectColumns+` FROM recordings WHERE output_path = ?`, path)
	return scanRecording(row)
}

// ListPending returns recordings awaiting analysis, oldest first.
func (s *Store) ListPending(limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		selectColumns+` FROM recordings WHERE analysis_state = ?
		 ORDER BY stopped_at ASC LIMIT ?`,
		AnalysisPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// ListRecent returns the newest recordings first.
func (s *Store) ListRecent(limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		selectColumns+` FROM recordings ORDER BY stopped_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// ListExpired returns recordings that stopped before cutoff, oldest first.
func (s *Store) ListExpired(cutoff time.Time) ([]Recording, error) {
	rows, err := s.db.Query(
		selectColumns+` FROM recordings WHERE stopped_at < ? ORDER BY stopped_at ASC`,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecordings(rows)
}

// MarkSummarized records a successful analysis.
func (s *Store) MarkSummarized(id, summaryPath string, at time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE recordings SET analysis_state = ?, summary_path = ?, analyzed_at = ?, analysis_error = ''
			 WHERE id = ?`,
			AnalysisSummarized, summaryPath, formatTime(at), id,
		)
		return err
	})
}

// MarkFailed records a failed analysis with the error message.
func (s *Store) MarkFailed(id, reason string, at time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE recordings SET analysis_state = ?, analyzed_at = ?, analysis_error = ?
			 WHERE id = ?`,
			AnalysisFailed, formatTime(at), reason, id,
		)
		return err
	})
}

// MarkSkipped records that a recording will not be analyzed (too small,
// analyzer disabled, unsupported format).
func (s *Store) MarkSkipped(id, reason string, at time.Time) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE recordings SET analysis_state = ?, analyzed_at = ?, analysis_error = ?
			 WHERE id = ?`,
			AnalysisSkipped, formatTime(at), reason, id,
		)
		return err
	})
}

// Delete removes a recording row.
func (s *Store) Delete(id string) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
		return err
	})
}

// Stats counts recordings per analysis state.
func (s *Store) Stats() (Stats, error) {
	rows, err := s.db.Query(
		`SELECT analysis_state, COUNT(*) FROM recordings GROUP BY analysis_state`,
	)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Stats{}, err
		}
		st.Total += n
		switch state {
		case AnalysisPending:
			st.Pending = n
		case AnalysisSummarized:
			st.Summarized = n
		case AnalysisFailed:
			st.Failed = n
		case AnalysisSkipped:
			st.Skipped = n
		}
	}
	return st, rows.Err()
}

const selectColumns = `SELECT id, output_path, started_at, stopped_at, duration_ms, size_bytes,
	backend, stop_reason, clean, analysis_state, summary_path, analyzed_at, analysis_error`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var r Recording
	var started, stopped, analyzed string
	var clean int
	if err := row.Scan(&r.ID, &r.OutputPath, &started, &stopped, &r.DurationMs, &r.SizeBytes,
		&r.Backend, &r.StopReason, &clean, &r.AnalysisState, &r.SummaryPath, &analyzed, &r.AnalysisError); err != nil {
		return nil, err
	}
	r.Clean = clean != 0

	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at for %s: %w", r.ID, err)
	}
	if r.StoppedAt, err = parseTime(stopped); err != nil {
		return nil, fmt.Errorf("parse stopped_at for %s: %w", r.ID, err)
	}
	if r.AnalyzedAt, err = parseTime(analyzed); err != nil {
		return nil, fmt.Errorf("parse analyzed_at for %s: %w", r.ID, err)
	}
	return &r, nil
}

func scanRecordings(rows *sql.Rows) ([]Recording, error) {
	var recs []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

// formatTime stores timestamps as RFC3339Nano text; the zero time becomes
// the empty string so unanalyzed rows stay readable in the raw table.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
