package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// DefaultBatchSize is the number of records committed per transaction.
const DefaultBatchSize = 500

var errSinkClosed = errors.New("record sink closed")

// RecordSink writes measurements for one run, committing every batchSize
// records. Call Close to commit the tail.
type RecordSink struct {
	db        *DB
	runID     string
	batchSize int

	mu      sync.Mutex
	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	written uint64
	closed  bool
}

// NewRecordSink returns a sink storing records under runID.
func (db *DB) NewRecordSink(runID string, batchSize int) *RecordSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordSink{db: db, runID: runID, batchSize: batchSize}
}

func (s *RecordSink) begin() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO measurements (
			run_id, sequence_number, coarse_raw_digits, coarse_angle_degrees,
			fine_raw_digits, fine_angle_degrees, index_angle_degrees,
			coarse_command, fine_command, inner_raw_digits
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *RecordSink) Write(rec encoder.MeasurementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if s.tx == nil {
		if err := s.begin(); err != nil {
			return err
		}
	}
	_, err := s.stmt.Exec(s.runID, int64(rec.Sequence), rec.CoarseDigits, rec.CoarseAngle,
		rec.FineDigits, rec.FineAngle, rec.IndexAngle,
		rec.CoarseCommand, rec.FineCommand, rec.InnerDigits)
	if err != nil {
		return fmt.Errorf("failed to insert measurement %d: %w", rec.Sequence, err)
	}
	s.pending++
	if s.pending >= s.batchSize {
		return s.commit()
	}
	return nil
}

func (s *RecordSink) commit() error {
	if s.tx == nil {
		return nil
	}
	s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt = nil, nil
	if err != nil {
		return fmt.Errorf("failed to commit measurements: %w", err)
	}
	s.written += uint64(s.pending)
	s.pending = 0
	return nil
}

// Flush commits any pending records.
func (s *RecordSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit()
}

// Written returns the number of committed records.
func (s *RecordSink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close commits pending records. Further writes fail.
func (s *RecordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.commit()
}
