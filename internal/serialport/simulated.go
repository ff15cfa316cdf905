package serialport

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/encoderlog/internal/encoder"
	"github.com/banshee-data/encoderlog/internal/timeutil"
)

// SimulationConfig describes the shaft motion a SimulatedPort reports.
type SimulationConfig struct {
	// FrameRate is the number of frames emitted per second.
	FrameRate float64
	// SlewRate is the fine (work) encoder rotation rate in degrees per second.
	SlewRate float64
	// GearRatio is coarse revolutions per fine revolution.
	GearRatio float64
	// NoiseEvery, when positive, inserts a few garbage bytes before every
	// NoiseEvery-th frame to exercise resynchronisation.
	NoiseEvery int
	// ReadTimeout is how long a read waits for the next frame.
	ReadTimeout time.Duration
	// Clock defaults to the real clock.
	Clock timeutil.Clock
	// Seed seeds the noise generator.
	Seed int64
}

// DefaultSimulationConfig mirrors a slow sweep at the firmware's 1 kHz frame
// rate.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		FrameRate:   1000,
		SlewRate:    36,
		GearRatio:   1,
		ReadTimeout: DefaultReadTimeout,
	}
}

// SimulatedPort generates encoder frames for a shaft turning at a constant
// rate. It implements TimeoutSerialPorter and is used for -dev runs.
type SimulatedPort struct {
	mu      sync.Mutex
	cfg     SimulationConfig
	clock   timeutil.Clock
	rng     *rand.Rand
	start   time.Time
	emitted int64
	pending []byte
	index   int64
	lastRev int64
	closed  bool
}

// NewSimulatedPort starts a simulation at the clock's current time.
func NewSimulatedPort(cfg SimulationConfig) *SimulatedPort {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 1000
	} else if cfg.FrameRate > 1e6 {
		cfg.FrameRate = 1e6
	}
	if cfg.GearRatio == 0 {
		cfg.GearRatio = 1
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimulatedPort{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		start: clock.Now(),
	}
}

// SetReadTimeout implements TimeoutSerialPorter.
func (s *SimulatedPort) SetReadTimeout(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout > 0 {
		s.cfg.ReadTimeout = timeout
	}
	return nil
}

// Read returns frames that are due by now. When none are due it waits up to
// the read timeout for the next one. The lock is released while waiting so
// Close does not block behind a read.
func (s *SimulatedPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrPortClosed
	}
	if len(s.pending) == 0 {
		s.generate()
	}
	if len(s.pending) == 0 {
		next := s.start.Add(time.Duration(s.emitted+1) * s.period())
		wait := next.Sub(s.clock.Now())
		if wait > s.cfg.ReadTimeout {
			wait = s.cfg.ReadTimeout
		}
		if wait > 0 {
			s.mu.Unlock()
			s.clock.Sleep(wait)
			s.mu.Lock()
			if s.closed {
				return 0, ErrPortClosed
			}
		}
		s.generate()
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// period is the time between frames.
func (s *SimulatedPort) period() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FrameRate)
}

// generate appends every frame due at the current time to pending.
func (s *SimulatedPort) generate() {
	due := int64(s.clock.Since(s.start) / s.period())
	for ; s.emitted < due; s.emitted++ {
		if s.cfg.NoiseEvery > 0 && s.emitted%int64(s.cfg.NoiseEvery) == 0 {
			noise := make([]byte, 1+s.rng.Intn(4))
			for i := range noise {
				noise[i] = byte('0' + s.rng.Intn(10))
			}
			s.pending = append(s.pending, noise...)
		}
		frame, err := encoder.EncodeFrame(s.fieldsAt(float64(s.emitted+1) / s.cfg.FrameRate))
		if err != nil {
			continue
		}
		s.pending = append(s.pending, frame[:]...)
	}
}

// wrapCount maps counts into the signed range of a 24-bit field.
func wrapCount(counts, fullScale int64) int64 {
	c := counts % fullScale
	if c >= fullScale/2 {
		c -= fullScale
	} else if c < -fullScale/2 {
		c += fullScale
	}
	return c
}

// fieldsAt returns the frame contents t seconds into the run.
func (s *SimulatedPort) fieldsAt(t float64) encoder.FrameFields {
	fineDeg := s.cfg.SlewRate * t
	coarseDeg := fineDeg * s.cfg.GearRatio

	fine := int64(math.Round(fineDeg / 360 * encoder.FineFullScale))
	coarse := int64(math.Round(coarseDeg / 360 * encoder.CoarseFullScale))

	// The fine encoder counts the other way round, and the index latches
	// the fine count each time the shaft passes a whole revolution.
	rev := int64(math.Floor(fineDeg / 360))
	if rev != s.lastRev {
		s.lastRev = rev
		s.index = -wrapCount(fine, encoder.FineFullScale)
	}

	command := int64(math.Round(s.cfg.SlewRate))
	return encoder.FrameFields{
		CoarseCommand: command,
		CoarseCount:   wrapCount(coarse, encoder.CoarseFullScale),
		FineCount:     -wrapCount(fine, encoder.FineFullScale),
		FineCommand:   command,
		IndexCount:    s.index,
	}
}

// Close stops the simulation.
func (s *SimulatedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ TimeoutSerialPorter = (*SimulatedPort)(nil)
