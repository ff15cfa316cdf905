package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/encoderlog/internal/timeutil"
)

// ErrClosed is returned when writing to a closed recorder.
var ErrClosed = errors.New("capture closed")

// Recorder appends chunks to a capture stream.
type Recorder struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	clock  timeutil.Clock
	start  time.Time
	chunks uint64
	bytes  uint64
	closed bool
}

// NewRecorder writes hdr to w and returns a recorder. A zero StartedAt is
// filled from clock. If w is an io.Closer it is closed by Close.
func NewRecorder(w io.Writer, hdr Header, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if hdr.StartedAt.IsZero() {
		hdr.StartedAt = clock.Now()
	}
	hdr.Version = FormatVersion

	buf := bufio.NewWriter(w)
	r := &Recorder{
		buf:   buf,
		enc:   newEncoder(buf),
		clock: clock,
		start: hdr.StartedAt,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if err := r.enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return r, nil
}

// CreateFile creates path, including parent directories, and returns a
// recorder writing to it.
func CreateFile(path string, hdr Header, clock timeutil.Clock) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	r, err := NewRecorder(f, hdr, clock)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Record stores a copy of p. Empty reads are not recorded.
func (r *Recorder) Record(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	c := Chunk{Offset: r.clock.Since(r.start), Data: p}
	if err := r.enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write capture chunk: %w", err)
	}
	r.chunks++
	r.bytes += uint64(len(p))
	return nil
}

// Stats returns the number of chunks and bytes recorded.
func (r *Recorder) Stats() (chunks, bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks, r.bytes
}

// Close flushes buffered chunks and closes the underlying writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.buf.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RecordingSource tees every read from src into a recorder.
type RecordingSource struct {
	src io.ReadCloser
	rec *Recorder
}

// NewRecordingSource wraps src. Close closes both src and rec.
func NewRecordingSource(src io.ReadCloser, rec *Recorder) *RecordingSource {
	return &RecordingSource{src: src, rec: rec}
}

func (s *RecordingSource) Read(p []byte) (int, error) {
	n, err := s.src.Read(p)
	if n > 0 {
		if rerr := s.rec.Record(p[:n]); rerr != nil {
			return n, rerr
		}
	}
	return n, err
}

// SetReadTimeout forwards to src when it supports read timeouts.
func (s *RecordingSource) SetReadTimeout(d time.Duration) error {
	if ts, ok := s.src.(interface{ SetReadTimeout(time.Duration) error }); ok {
		return ts.SetReadTimeout(d)
	}
	return nil
}

func (s *RecordingSource) Close() error {
	err := s.src.Close()
	if rerr := s.rec.Close(); err == nil {
		err = rerr
	}
	return err
}
