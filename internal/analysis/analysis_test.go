package analysis

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestWrap(t *testing.T) {
	tests := []struct {
		in, w180, w360 float64
	}{
		{0, 0, 0},
		{90, 90, 90},
		{180, -180, 180},
		{-180, -180, 180},
		{-190, 170, 170},
		{370, 10, 10},
		{-90, -90, 270},
		{720, 0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.w180, Wrap180(tt.in), 1e-12, "Wrap180(%v)", tt.in)
		assert.InDelta(t, tt.w360, Wrap360(tt.in), 1e-12, "Wrap360(%v)", tt.in)
	}
}

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"empty", nil, []float64{}},
		{"no wraps", []float64{0, 10, 20}, []float64{0, 10, 20}},
		{"forward through 180", []float64{170, -170, -150}, []float64{170, 190, 210}},
		{"backward through 0", []float64{0, 359, 358}, []float64{0, -1, -2}},
		{"two turns", []float64{150, -90, 30, 150, -90}, []float64{150, 270, 390, 510, 630}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Unwrap(tt.in), approx); diff != "" {
				t.Errorf("Unwrap mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGradient(t *testing.T) {
	// y = t² has an exact second-order central difference in the interior.
	got := Gradient([]float64{0, 1, 4, 9}, []float64{0, 1, 2, 3})
	if diff := cmp.Diff([]float64{1, 2, 4, 5}, got, approx); diff != "" {
		t.Errorf("uniform gradient mismatch (-want +got):\n%s", diff)
	}

	got = Gradient([]float64{0, 1, 9}, []float64{0, 1, 3})
	if diff := cmp.Diff([]float64{1, 2, 4}, got, approx); diff != "" {
		t.Errorf("non-uniform gradient mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []float64{0}, Gradient([]float64{3}, []float64{1}))
}

func TestLastChange(t *testing.T) {
	assert.Equal(t, -1, LastChange(nil))
	assert.Equal(t, 0, LastChange([]float64{5, 5, 5}))
	assert.Equal(t, 2, LastChange([]float64{1, 1, 2, 2}))
	assert.Equal(t, 3, LastChange([]float64{1, 2, 2, 3}))
}

// rotation builds n records turning the coarse encoder +5° and the fine
// encoder -2° per sample, with the index latching 45° at row indexRow.
func rotation(n, indexRow int) []encoder.MeasurementRecord {
	out := make([]encoder.MeasurementRecord, n)
	for i := range out {
		seq := uint64(i + 1)
		out[i] = encoder.MeasurementRecord{
			Sequence:    seq,
			CoarseAngle: Wrap180(5 * float64(seq)),
			FineAngle:   Wrap180(-2 * float64(seq)),
		}
		if i >= indexRow {
			out[i].IndexAngle = 45
		}
	}
	return out
}

func TestAnalyzeConstantRotation(t *testing.T) {
	series, sum, err := Analyze(rotation(100, 10), time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 100, sum.Records)
	assert.Equal(t, 10, sum.IndexRow)
	assert.Equal(t, 90, sum.Samples)
	assert.InDelta(t, 45, sum.IndexAngle, 1e-12)
	assert.InDelta(t, 55, sum.CoarseOffset, 1e-9)
	assert.InDelta(t, 45, sum.FineOffset, 1e-9)
	assert.InDelta(t, 0.089, sum.Duration, 1e-9)

	assert.InDelta(t, 0, series.Coarse[0], 1e-9)
	assert.InDelta(t, -67, series.Fine[0], 1e-9)
	assert.InDelta(t, 5*89, series.Coarse[89], 1e-6)

	assert.InDelta(t, 5000, sum.Coarse.Mean, 1e-6)
	assert.InDelta(t, 5000, sum.Coarse.Max, 1e-6)
	assert.InDelta(t, 5000, sum.Coarse.Min, 1e-6)
	assert.InDelta(t, 0, sum.Coarse.StdDev, 1e-6)
	assert.InDelta(t, -2000, sum.Fine.Mean, 1e-6)

	for _, a := range series.CoarseAcceleration {
		assert.InDelta(t, 0, a, 1e-3)
	}

	coarse, fine := series.Wrapped()
	require.Len(t, coarse, 90)
	for i := range coarse {
		assert.GreaterOrEqual(t, coarse[i], -180.0)
		assert.Less(t, coarse[i], 180.0)
		assert.GreaterOrEqual(t, fine[i], -180.0)
		assert.Less(t, fine[i], 180.0)
	}
}

func TestAnalyzeOffsetsAddOneTurnWhenNegative(t *testing.T) {
	tests := []struct {
		index, coarse float64
		fine, coarseO float64
	}{
		{45, 55, 45, 55},
		{-10, -20, 350, 340},
		{-400, -500, -40, -140},
		{9000, 580, 9000, 580},
	}
	for _, tt := range tests {
		recs := rotation(5, 0)
		for i := range recs {
			recs[i].IndexAngle = tt.index
		}
		recs[0].CoarseAngle = tt.coarse
		sum, err := Summarize(recs, time.Millisecond)
		require.NoError(t, err)
		assert.InDelta(t, tt.fine, sum.FineOffset, 1e-12, "index %v", tt.index)
		assert.InDelta(t, tt.coarseO, sum.CoarseOffset, 1e-12, "coarse %v", tt.coarse)
	}
}

func TestAnalyzeDropsRepeatedTimes(t *testing.T) {
	recs := rotation(6, 0)
	recs[3].Sequence = recs[2].Sequence
	sum, err := Summarize(recs, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Samples)
}

func TestAnalyzeInsufficientSamples(t *testing.T) {
	_, err := Summarize(nil, time.Millisecond)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	_, err = Summarize(rotation(1, 0), time.Millisecond)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	// Index changes on the very last record.
	_, err = Summarize(rotation(5, 4), time.Millisecond)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestSummaryWriteText(t *testing.T) {
	sum, err := Summarize(rotation(20, 0), time.Millisecond)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sum.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Coarse Slew:")
	assert.Contains(t, out, "Fine Slew:")
	assert.Contains(t, out, "Avg dθ/dt: 5000.00°/s")
	assert.Contains(t, out, "Avg dθ/dt: -2000.00°/s")
}
