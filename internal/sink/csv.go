package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// CSVHeader is the column order of encoder log files.
var CSVHeader = []string{
	"sequence_number",
	"coarse_raw_digits",
	"coarse_angle_degrees",
	"fine_raw_digits",
	"fine_angle_degrees",
	"index_angle_degrees",
	"coarse_command",
	"fine_command",
}

// LogFileTimeFormat is the timestamp suffix used in log file names.
const LogFileTimeFormat = "20060102_150405"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatRow renders rec in CSVHeader order.
func FormatRow(rec encoder.MeasurementRecord) []string {
	return []string{
		strconv.FormatUint(rec.Sequence, 10),
		rec.CoarseDigits,
		formatFloat(rec.CoarseAngle),
		rec.FineDigits,
		formatFloat(rec.FineAngle),
		formatFloat(rec.IndexAngle),
		strconv.FormatInt(rec.CoarseCommand, 10),
		strconv.FormatInt(rec.FineCommand, 10),
	}
}

// ParseRow is the inverse of FormatRow.
func ParseRow(row []string) (encoder.MeasurementRecord, error) {
	var rec encoder.MeasurementRecord
	if len(row) != len(CSVHeader) {
		return rec, fmt.Errorf("expected %d columns, got %d", len(CSVHeader), len(row))
	}
	var err error
	if rec.Sequence, err = strconv.ParseUint(row[0], 10, 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[0], err)
	}
	rec.CoarseDigits = row[1]
	if rec.CoarseAngle, err = strconv.ParseFloat(row[2], 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[2], err)
	}
	rec.FineDigits = row[3]
	if rec.FineAngle, err = strconv.ParseFloat(row[4], 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[4], err)
	}
	if rec.IndexAngle, err = strconv.ParseFloat(row[5], 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[5], err)
	}
	if rec.CoarseCommand, err = strconv.ParseInt(row[6], 10, 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[6], err)
	}
	if rec.FineCommand, err = strconv.ParseInt(row[7], 10, 64); err != nil {
		return rec, fmt.Errorf("failed to parse %s: %w", CSVHeader[7], err)
	}
	return rec, nil
}

// CSV writes records as rows of a comma separated table with a header row.
type CSV struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	w      *csv.Writer
	closer io.Closer
	closed bool
}

// NewCSV writes the header to w and returns a sink appending rows to it. If w
// is an io.Closer it is closed by Close.
func NewCSV(w io.Writer) (*CSV, error) {
	buf := bufio.NewWriter(w)
	s := &CSV{buf: buf, w: csv.NewWriter(buf)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	if err := s.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return s, nil
}

// LogFilePath returns <dir>/<base>_<YYYYmmdd_HHMMSS>.csv.
func LogFilePath(dir, base string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", base, at.Format(LogFileTimeFormat)))
}

// CreateCSVFile creates dir if needed and opens a new log file in it.
func CreateCSVFile(dir, base string, at time.Time) (*CSV, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}
	path := LogFilePath(dir, base, at)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create log file: %w", err)
	}
	s, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	return s, path, nil
}

func (s *CSV) Write(rec encoder.MeasurementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.w.Write(FormatRow(rec))
}

// Flush pushes buffered rows to the underlying writer.
func (s *CSV) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *CSV) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.buf.Flush()
}

// Close flushes and closes the underlying writer. It is safe to call more
// than once.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadCSV parses a log written by CSV. The header row is skipped.
func ReadCSV(r io.Reader) ([]encoder.MeasurementRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var records []encoder.MeasurementRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string) ([]encoder.MeasurementRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
