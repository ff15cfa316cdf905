// Package sink holds the destinations decoded measurement records are
// forwarded to: CSV logs, memory, the console and live subscribers.
package sink

import (
	"errors"
	"sync"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// Writer accepts one record at a time.
type Writer interface {
	Write(rec encoder.MeasurementRecord) error
}

// Memory keeps every record it is given. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []encoder.MeasurementRecord
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(rec encoder.MeasurementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (m *Memory) Records() []encoder.MeasurementRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]encoder.MeasurementRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Multi forwards each record to every writer in order and stops at the first
// error.
type Multi []Writer

func (m Multi) Write(rec encoder.MeasurementRecord) error {
	for _, w := range m {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every record.
var Discard Writer = discard{}

type discard struct{}

func (discard) Write(encoder.MeasurementRecord) error { return nil }

// ErrClosed is returned by sinks written to after Close.
var ErrClosed = errors.New("sink closed")
