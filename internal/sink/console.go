package sink

import (
	"time"

	"github.com/banshee-data/encoderlog/internal/encoder"
	"github.com/banshee-data/encoderlog/internal/monitoring"
	"github.com/banshee-data/encoderlog/internal/timeutil"
)

// Console logs one line per record through monitoring.Debugf, so it only
// prints when verbose output is on.
type Console struct {
	clock timeutil.Clock
	start time.Time
}

// NewConsole returns a console sink timing records from now.
func NewConsole(clock timeutil.Clock) *Console {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Console{clock: clock, start: clock.Now()}
}

func (c *Console) Write(rec encoder.MeasurementRecord) error {
	monitoring.Debugf("[%d] [%d ms] coarse cmd: %d | coarse: %s (%.4f°) | fine: %s (%.4f°) | fine cmd: %d | inner: %s | index: %.4f°",
		rec.Sequence, c.clock.Since(c.start).Milliseconds(),
		rec.CoarseCommand, rec.CoarseDigits, rec.CoarseAngle,
		rec.FineDigits, rec.FineAngle, rec.FineCommand,
		rec.InnerDigits, rec.IndexAngle)
	return nil
}
