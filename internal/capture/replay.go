package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/encoderlog/internal/timeutil"
)

// ErrUnsupportedVersion is returned for capture files from a newer format.
var ErrUnsupportedVersion = errors.New("unsupported capture version")

// ReplayOptions controls how a capture is played back.
type ReplayOptions struct {
	// Paced delays each chunk until its recorded offset has elapsed.
	// Otherwise chunks are returned as fast as they are read.
	Paced bool
	// Speed scales paced playback; 2 plays twice as fast. Zero means 1.
	Speed float64
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// ReplaySource plays a capture back as a byte source. It returns io.EOF once
// every chunk has been delivered.
type ReplaySource struct {
	dec     *cbor.Decoder
	closer  io.Closer
	header  Header
	opts    ReplayOptions
	clock   timeutil.Clock
	started time.Time
	pending []byte
	done    bool
}

// NewReplaySource reads the capture header from r.
func NewReplaySource(r io.Reader, opts ReplayOptions) (*ReplaySource, error) {
	dec := newDecoder(r)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if hdr.Version < 1 || hdr.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &ReplaySource{dec: dec, header: hdr, opts: opts, clock: clock, started: clock.Now()}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// OpenReplay opens a capture file for playback.
func OpenReplay(path string, opts ReplayOptions) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewReplaySource(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Header returns the capture header.
func (s *ReplaySource) Header() Header {
	return s.header
}

func (s *ReplaySource) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if s.done {
			return 0, io.EOF
		}
		var c Chunk
		if err := s.dec.Decode(&c); err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return 0, io.EOF
			}
			return 0, fmt.Errorf("failed to read capture chunk: %w", err)
		}
		if s.opts.Paced {
			due := time.Duration(float64(c.Offset) / s.opts.Speed)
			if wait := due - s.clock.Since(s.started); wait > 0 {
				s.clock.Sleep(wait)
			}
		}
		s.pending = c.Data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *ReplaySource) Close() error {
	s.done = true
	s.pending = nil
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
