package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one acquisition session.
type Run struct {
	ID           string     `json:"run_id"`
	Name         string     `json:"name"`
	Source       string     `json:"source"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Frames       uint64     `json:"frames"`
	DecodeErrors uint64     `json:"decode_errors"`
	StopReason   string     `json:"stop_reason,omitempty"`
}

// RunOutcome is recorded when a run ends.
type RunOutcome struct {
	FinishedAt   time.Time
	Frames       uint64
	DecodeErrors uint64
	StopReason   string
}

// StartRun inserts a new run and returns it with a fresh ID.
func (db *DB) StartRun(name, source string, startedAt time.Time) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		StartedAt: startedAt.UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, name, source, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Name, run.Source, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run.
func (db *DB) FinishRun(runID string, outcome RunOutcome) error {
	res, err := db.Exec(
		`UPDATE runs SET finished_at = ?, frames = ?, decode_errors = ?, stop_reason = ? WHERE run_id = ?`,
		outcome.FinishedAt.UTC().UnixNano(), int64(outcome.Frames), int64(outcome.DecodeErrors), outcome.StopReason, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, name, source, started_at, finished_at, frames, decode_errors, stop_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run          Run
		startedAt    int64
		finishedAt   sql.NullInt64
		frames       int64
		decodeErrors int64
	)
	if err := row.Scan(&run.ID, &run.Name, &run.Source, &startedAt, &finishedAt, &frames, &decodeErrors, &run.StopReason); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	run.Frames = uint64(frames)
	run.DecodeErrors = uint64(decodeErrors)
	return &run, nil
}

// GetRun returns a single run.
func (db *DB) GetRun(runID string) (*Run, error) {
	run, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Runs returns up to limit runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Measurements returns the stored records of a run in sequence order.
func (db *DB) Measurements(runID string) ([]encoder.MeasurementRecord, error) {
	rows, err := db.Query(`SELECT sequence_number, coarse_raw_digits, coarse_angle_degrees,
			fine_raw_digits, fine_angle_degrees, index_angle_degrees,
			coarse_command, fine_command, inner_raw_digits
		FROM measurements WHERE run_id = ? ORDER BY sequence_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []encoder.MeasurementRecord
	for rows.Next() {
		var (
			rec encoder.MeasurementRecord
			seq int64
		)
		if err := rows.Scan(&seq, &rec.CoarseDigits, &rec.CoarseAngle,
			&rec.FineDigits, &rec.FineAngle, &rec.IndexAngle,
			&rec.CoarseCommand, &rec.FineCommand, &rec.InnerDigits); err != nil {
			return nil, err
		}
		rec.Sequence = uint64(seq)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := db.Runs(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}
