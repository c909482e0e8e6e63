package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// RunRecord describes one persisted indexation run.
type RunRecord struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"` // "running", "complete", "error"
	ScanHeight  int             `json:"scan_height"`
	ScanWidth   int             `json:"scan_width"`
	NBest       int             `json:"n_best"`
	PhaseKeys   []string        `json:"phase_keys"`
	Params      json.RawMessage `json:"params,omitempty"`
	Error       string          `json:"error,omitempty"`
	Failures    int             `json:"failures"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewRunRecord starts a run record with a fresh run ID.
func NewRunRecord(scanHeight, scanWidth, nBest int, phaseKeys []string, params json.RawMessage) RunRecord {
	return RunRecord{
		RunID:      uuid.NewString(),
		Status:     "running",
		ScanHeight: scanHeight,
		ScanWidth:  scanWidth,
		NBest:      nBest,
		PhaseKeys:  phaseKeys,
		Params:     params,
		StartedAt:  time.Now().UTC(),
	}
}

// ResultStore provides persistence for indexation runs and matches.
type ResultStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &ResultStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewResultStore wraps an existing database handle, ensuring the schema.
func NewResultStore(db *sql.DB) (*ResultStore, error) {
	s := &ResultStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *ResultStore) Close() error { return s.db.Close() }

func (s *ResultStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS indexation_runs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL UNIQUE,
			status          TEXT NOT NULL,
			scan_height     INTEGER NOT NULL,
			scan_width      INTEGER NOT NULL,
			n_best          INTEGER NOT NULL,
			phase_keys_json TEXT NOT NULL,
			params_json     TEXT,
			error           TEXT,
			failures        INTEGER NOT NULL DEFAULT 0,
			started_at      TEXT NOT NULL,
			completed_at    TEXT
		);
		CREATE TABLE IF NOT EXISTS indexation_matches (
			run_id         TEXT NOT NULL,
			scan_y         INTEGER NOT NULL,
			scan_x         INTEGER NOT NULL,
			rank           INTEGER NOT NULL,
			phase_index    INTEGER NOT NULL,
			template_index INTEGER NOT NULL,
			in_plane_angle DOUBLE,
			beam_polar     DOUBLE,
			beam_azimuth   DOUBLE,
			score          DOUBLE,
			mirrored       INTEGER NOT NULL,
			PRIMARY KEY (run_id, scan_y, scan_x, rank),
			FOREIGN KEY (run_id) REFERENCES indexation_runs(run_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensuring result schema: %w", err)
	}
	return nil
}

// retryOnBusy retries a database operation a few times when SQLite reports
// the database as locked by another writer.
func retryOnBusy(op func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

// InsertRun creates a run record when an indexation run starts.
func (s *ResultStore) InsertRun(rec RunRecord) error {
	keys, err := json.Marshal(rec.PhaseKeys)
	if err != nil {
		return fmt.Errorf("encoding phase keys for run %s: %w", rec.RunID, err)
	}
	query := `
		INSERT INTO indexation_runs (
			run_id, status, scan_height, scan_width, n_best,
			phase_keys_json, params_json, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			rec.Status,
			rec.ScanHeight,
			rec.ScanWidth,
			rec.NBest,
			string(keys),
			nullStr(string(rec.Params)),
			rec.StartedAt.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// CompleteRun marks a run finished (or failed) and records its failure count.
func (s *ResultStore) CompleteRun(runID, status, errMsg string, failures int, completedAt time.Time) error {
	query := `
		UPDATE indexation_runs
		SET status = ?, error = ?, failures = ?, completed_at = ?
		WHERE run_id = ?
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			status,
			nullStr(errMsg),
			failures,
			completedAt.UTC().Format(time.RFC3339),
			runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	return nil
}

// InsertResult writes every non-sentinel match of an indexation result in a
// single transaction.
func (s *ResultStore) InsertResult(runID string, res *diffraction.IndexationResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning match insert for run %s: %w", runID, err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO indexation_matches (
			run_id, scan_y, scan_x, rank, phase_index, template_index,
			in_plane_angle, beam_polar, beam_azimuth, score, mirrored
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing match insert for run %s: %w", runID, err)
	}
	defer stmt.Close()

	for y := 0; y < res.ScanHeight; y++ {
		for x := 0; x < res.ScanWidth; x++ {
			for rank := 0; rank < res.NBest; rank++ {
				m := res.At(y, x, rank)
				if m.PhaseIndex < 0 {
					continue // sentinel row from a failed position
				}
				if _, err := stmt.Exec(runID, y, x, rank,
					m.PhaseIndex, m.TemplateIndex,
					m.Orientation[0], m.Orientation[1], m.Orientation[2],
					m.Score, boolInt(m.Mirrored),
				); err != nil {
					tx.Rollback()
					return fmt.Errorf("inserting match (%d,%d) rank %d for run %s: %w", y, x, rank, runID, err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing matches for run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns a single run record by run ID.
func (s *ResultStore) GetRun(runID string) (*RunRecord, error) {
	query := `
		SELECT id, run_id, status, scan_height, scan_width, n_best,
		       phase_keys_json, params_json, error, failures, started_at, completed_at
		FROM indexation_runs
		WHERE run_id = ?
	`
	row := s.db.QueryRow(query, runID)
	var (
		rec         RunRecord
		keysJSON    string
		paramsJSON  sql.NullString
		errMsg      sql.NullString
		startedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.RunID, &rec.Status, &rec.ScanHeight, &rec.ScanWidth,
		&rec.NBest, &keysJSON, &paramsJSON, &errMsg, &rec.Failures, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(keysJSON), &rec.PhaseKeys); err != nil {
		return nil, fmt.Errorf("decoding phase keys for run %s: %w", runID, err)
	}
	if paramsJSON.Valid {
		rec.Params = json.RawMessage(paramsJSON.String)
	}
	rec.Error = errMsg.String
	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing start time for run %s: %w", runID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completion time for run %s: %w", runID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// MatchesAt returns the persisted ranked matches for one scan position of a
// run, ordered by rank.
func (s *ResultStore) MatchesAt(runID string, scanY, scanX int) ([]diffraction.RankedMatch, error) {
	query := `
		SELECT phase_index, template_index, in_plane_angle, beam_polar, beam_azimuth, score, mirrored
		FROM indexation_matches
		WHERE run_id = ? AND scan_y = ? AND scan_x = ?
		ORDER BY rank
	`
	rows, err := s.db.Query(query, runID, scanY, scanX)
	if err != nil {
		return nil, fmt.Errorf("querying matches at (%d,%d) for run %s: %w", scanY, scanX, runID, err)
	}
	defer rows.Close()

	var out []diffraction.RankedMatch
	for rows.Next() {
		var (
			m        diffraction.RankedMatch
			mirrored int
		)
		if err := rows.Scan(&m.PhaseIndex, &m.TemplateIndex,
			&m.Orientation[0], &m.Orientation[1], &m.Orientation[2],
			&m.Score, &mirrored); err != nil {
			return nil, fmt.Errorf("scanning match for run %s: %w", runID, err)
		}
		m.Mirrored = mirrored != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
