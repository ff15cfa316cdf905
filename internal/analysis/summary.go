package analysis

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// DefaultSamplePeriod is the time between sequence numbers assumed when none
// is given; the encoder board streams at 1 kHz.
const DefaultSamplePeriod = time.Millisecond

// ErrInsufficientSamples is returned when fewer than two samples follow the
// last index change.
var ErrInsufficientSamples = errors.New("at least two samples are needed after the last index change")

// Series holds the zeroed traces from the last index change onward.
type Series struct {
	Time []float64 // seconds

	Coarse []float64 // unwrapped, zeroed at the index mark
	Fine   []float64

	CoarseVelocity []float64 // °/s
	FineVelocity   []float64

	CoarseAcceleration []float64 // °/s²
	FineAcceleration   []float64
}

// Wrapped returns the coarse and fine traces folded into [-180, 180).
func (s *Series) Wrapped() (coarse, fine []float64) {
	coarse = make([]float64, len(s.Coarse))
	fine = make([]float64, len(s.Fine))
	for i := range s.Coarse {
		coarse[i] = Wrap180(s.Coarse[i])
		fine[i] = Wrap180(s.Fine[i])
	}
	return coarse, fine
}

// SlewStats describes one encoder's angular velocity.
type SlewStats struct {
	Max    float64 `json:"max_deg_per_s"`
	Min    float64 `json:"min_deg_per_s"`
	Mean   float64 `json:"mean_deg_per_s"`
	StdDev float64 `json:"stddev_deg_per_s"`
}

func slewStats(v []float64) SlewStats {
	mean, std := stat.MeanStdDev(v, nil)
	return SlewStats{
		Max:    floats.Max(v),
		Min:    floats.Min(v),
		Mean:   mean,
		StdDev: std,
	}
}

// Summary is the result of Summarize.
type Summary struct {
	Records      int     `json:"records"`
	Samples      int     `json:"samples"`
	IndexRow     int     `json:"index_row"`
	IndexAngle   float64 `json:"index_angle_degrees"`
	CoarseOffset float64 `json:"coarse_offset_degrees"`
	FineOffset   float64 `json:"fine_offset_degrees"`
	Duration     float64 `json:"duration_s"`

	Coarse SlewStats `json:"coarse_slew"`
	Fine   SlewStats `json:"fine_slew"`
}

// zeroOffset lifts a negative reading by one turn. Readings are not range
// reduced, so an index angle of several turns stays as it is.
func zeroOffset(deg float64) float64 {
	if deg < 0 {
		return deg + 360
	}
	return deg
}

// Analyze zeroes both encoders at the last change of the index angle and
// differentiates them over sample time. Sample i is taken at
// Sequence*samplePeriod; samples repeating the previous time are dropped.
func Analyze(records []encoder.MeasurementRecord, samplePeriod time.Duration) (*Series, *Summary, error) {
	if samplePeriod <= 0 {
		samplePeriod = DefaultSamplePeriod
	}
	index := make([]float64, len(records))
	for i, r := range records {
		index[i] = r.IndexAngle
	}
	row := LastChange(index)
	if row < 0 || len(records)-row < 2 {
		return nil, nil, ErrInsufficientSamples
	}

	sum := &Summary{
		Records:      len(records),
		IndexRow:     row,
		IndexAngle:   records[row].IndexAngle,
		CoarseOffset: zeroOffset(records[row].CoarseAngle),
		FineOffset:   zeroOffset(records[row].IndexAngle),
	}

	var t, coarse, fine []float64
	for i, r := range records[row:] {
		ts := float64(r.Sequence) * samplePeriod.Seconds()
		if i > 0 && ts == t[len(t)-1] {
			continue
		}
		t = append(t, ts)
		coarse = append(coarse, r.CoarseAngle)
		fine = append(fine, r.FineAngle)
	}
	if len(t) < 2 {
		return nil, nil, ErrInsufficientSamples
	}

	coarse = Unwrap(coarse)
	fine = Unwrap(fine)
	floats.AddConst(-sum.CoarseOffset, coarse)
	floats.AddConst(-sum.FineOffset, fine)

	s := &Series{Time: t, Coarse: coarse, Fine: fine}
	s.CoarseVelocity = Gradient(coarse, t)
	s.FineVelocity = Gradient(fine, t)
	s.CoarseAcceleration = Gradient(s.CoarseVelocity, t)
	s.FineAcceleration = Gradient(s.FineVelocity, t)

	sum.Samples = len(t)
	sum.Duration = t[len(t)-1] - t[0]
	sum.Coarse = slewStats(s.CoarseVelocity)
	sum.Fine = slewStats(s.FineVelocity)
	return s, sum, nil
}

// Summarize is Analyze without the series.
func Summarize(records []encoder.MeasurementRecord, samplePeriod time.Duration) (*Summary, error) {
	_, sum, err := Analyze(records, samplePeriod)
	return sum, err
}

// WriteText prints the summary in the operator's report layout.
func (s *Summary) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"Records: %d (analysed %d from row %d, %.3f s)\n"+
			"Index angle: %.4f°  coarse offset: %.4f°  fine offset: %.4f°\n\n"+
			"Coarse Slew:\n  Max dθ/dt: %.2f°/s\n  Min dθ/dt: %.2f°/s\n  Avg dθ/dt: %.2f°/s\n  Std dθ/dt: %.2f°/s\n\n"+
			"Fine Slew:\n  Max dθ/dt: %.2f°/s\n  Min dθ/dt: %.2f°/s\n  Avg dθ/dt: %.2f°/s\n  Std dθ/dt: %.2f°/s\n",
		s.Records, s.Samples, s.IndexRow, s.Duration,
		s.IndexAngle, s.CoarseOffset, s.FineOffset,
		s.Coarse.Max, s.Coarse.Min, s.Coarse.Mean, s.Coarse.StdDev,
		s.Fine.Max, s.Fine.Min, s.Fine.Mean, s.Fine.StdDev,
	)
	return err
}
