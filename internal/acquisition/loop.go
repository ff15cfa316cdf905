// Package acquisition runs the bounded-duration read, frame and decode cycle
// against an encoder byte source.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/encoderlog/internal/encoder"
	"github.com/banshee-data/encoderlog/internal/monitoring"
	"github.com/banshee-data/encoderlog/internal/timeutil"
)

var (
	// ErrSourceUnavailable wraps a failed read from the byte source.
	ErrSourceUnavailable = errors.New("byte source unavailable")
	// ErrSinkRejected wraps a failed write to the record sink.
	ErrSinkRejected = errors.New("sink rejected record")
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("acquisition already started")
)

// ByteSource supplies the raw stream. Read must return within a short bounded
// time; a read that times out returns 0, nil. io.EOF ends the run cleanly
// (replayed captures end this way).
type ByteSource interface {
	io.Reader
	io.Closer
}

// timeoutSource is implemented by serial ports whose read timeout can be set.
type timeoutSource interface {
	SetReadTimeout(time.Duration) error
}

// Sink receives decoded records in sequence order.
type Sink interface {
	Write(rec encoder.MeasurementRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec encoder.MeasurementRecord) error

func (f SinkFunc) Write(rec encoder.MeasurementRecord) error { return f(rec) }

// State is the loop's run state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultReadSize    = 4096
)

// Options configures a Loop.
type Options struct {
	// Duration is the wall-clock sampling time. Required.
	Duration time.Duration
	// ReadTimeout is applied to sources that support it.
	ReadTimeout time.Duration
	// ReadSize is the maximum number of bytes taken per read.
	ReadSize int
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

func (o Options) readTimeout() time.Duration {
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return DefaultReadTimeout
}

func (o Options) readSize() int {
	if o.ReadSize > 0 {
		return o.ReadSize
	}
	return DefaultReadSize
}

func (o Options) clock() timeutil.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return timeutil.RealClock{}
}

// Result summarises a finished run.
type Result struct {
	Frames         uint64
	DecodeErrors   uint64
	BytesRead      uint64
	DiscardedBytes uint64
	// TrailingBytes is the size of the incomplete frame dropped at stop.
	TrailingBytes int
	Elapsed       time.Duration
	// Reason is "deadline", "cancelled", "eof" or "error".
	Reason string
}

// Status is a point-in-time view of a loop, safe to take while it runs.
type Status struct {
	State        string        `json:"state"`
	Frames       uint64        `json:"frames"`
	DecodeErrors uint64        `json:"decode_errors"`
	BytesRead    uint64        `json:"bytes_read"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Remaining    time.Duration `json:"remaining_ns"`
}

// Loop drives one acquisition run. The stream buffer is owned by the goroutine
// calling Run; only counters are shared.
type Loop struct {
	src  ByteSource
	sink Sink
	opts Options

	buf encoder.StreamBuffer

	state        atomic.Int32
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	bytesRead    atomic.Uint64

	mu       sync.Mutex
	started  time.Time
	deadline time.Time

	closeOnce sync.Once
	closeErr  error
}

// New returns a loop reading from src and forwarding to sink.
func New(src ByteSource, sink Sink, opts Options) *Loop {
	return &Loop{src: src, sink: sink, opts: opts}
}

// State returns the current run state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Status returns a snapshot of the loop's counters.
func (l *Loop) Status() Status {
	st := Status{
		State:        l.State().String(),
		Frames:       l.frames.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		BytesRead:    l.bytesRead.Load(),
	}
	l.mu.Lock()
	started, deadline := l.started, l.deadline
	l.mu.Unlock()
	if !started.IsZero() {
		now := l.opts.clock().Now()
		st.Elapsed = now.Sub(started)
		if l.State() == StateRunning && deadline.After(now) {
			st.Remaining = deadline.Sub(now)
		}
	}
	return st
}

// Run reads until the sampling duration elapses, ctx is done, the source
// reports EOF, or a fatal source or sink error occurs. The first call closes
// the source exactly once before returning, even when Duration is invalid.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{}, ErrAlreadyStarted
	}
	if l.opts.Duration <= 0 {
		l.state.Store(int32(StateStopped))
		err := fmt.Errorf("acquisition duration must be positive, got %v", l.opts.Duration)
		if cerr := l.release(); cerr != nil {
			err = fmt.Errorf("%w (closing byte source: %v)", err, cerr)
		}
		return Result{Reason: "error"}, err
	}

	clock := l.opts.clock()
	start := clock.Now()
	deadline := start.Add(l.opts.Duration)
	l.mu.Lock()
	l.started, l.deadline = start, deadline
	l.mu.Unlock()

	if ts, ok := l.src.(timeoutSource); ok {
		if err := ts.SetReadTimeout(l.opts.readTimeout()); err != nil {
			monitoring.Logf("failed to set read timeout: %v", err)
		}
	}

	monitoring.Logf("listening for frames starting with 0x%02X for %v", encoder.HeaderByte, l.opts.Duration)

	reason, runErr := l.poll(ctx, clock, deadline)

	l.state.Store(int32(StateStopped))
	res := Result{
		Frames:         l.frames.Load(),
		DecodeErrors:   l.decodeErrors.Load(),
		BytesRead:      l.bytesRead.Load(),
		DiscardedBytes: l.buf.Discarded(),
		TrailingBytes:  l.buf.Len(),
		Elapsed:        clock.Since(start),
		Reason:         reason,
	}
	l.buf.Reset()

	if err := l.release(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close byte source: %w", err)
	}
	monitoring.Logf("done logging %d frames (%d malformed, %d bytes discarded, stopped: %s)",
		res.Frames, res.DecodeErrors, res.DiscardedBytes+uint64(res.TrailingBytes), reason)
	return res, runErr
}

func (l *Loop) poll(ctx context.Context, clock timeutil.Clock, deadline time.Time) (string, error) {
	chunk := make([]byte, l.opts.readSize())
	for {
		if !clock.Now().Before(deadline) {
			return "deadline", nil
		}
		if ctx.Err() != nil {
			return "cancelled", nil
		}

		n, err := l.src.Read(chunk)
		if n > 0 {
			l.bytesRead.Add(uint64(n))
			l.buf.Append(chunk[:n])
			if err := l.drain(); err != nil {
				return "error", err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "eof", nil
			}
			return "error", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
	}
}

// drain decodes and forwards every complete frame in the buffer. A frame that
// fails to decode is counted and skipped; its bytes are consumed either way.
func (l *Loop) drain() error {
	for {
		frame, ok := l.buf.Next()
		if !ok {
			return nil
		}
		seq := l.frames.Load() + 1
		rec, err := encoder.Decode(frame, seq)
		if err != nil {
			l.decodeErrors.Add(1)
			monitoring.Logf("skipping malformed frame after #%d: %v", seq-1, err)
			continue
		}
		if err := l.sink.Write(rec); err != nil {
			return fmt.Errorf("%w: frame #%d: %w", ErrSinkRejected, seq, err)
		}
		l.frames.Add(1)
	}
}

func (l *Loop) release() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.src.Close()
	})
	return l.closeErr
}
