package encoder

import "fmt"

// Counts per revolution for each encoder.
const (
	CoarseFullScale = 5198400
	FineFullScale   = 327680
)

// MeasurementRecord is one decoded frame.
type MeasurementRecord struct {
	// Sequence is 1-based and increases by one per successfully decoded frame.
	Sequence uint64 `json:"sequence_number"`

	// CoarseDigits and FineDigits are the count fields as received, after
	// byte reversal and before sign handling.
	CoarseDigits string  `json:"coarse_raw_digits"`
	CoarseAngle  float64 `json:"coarse_angle_degrees"`
	FineDigits   string  `json:"fine_raw_digits"`
	FineAngle    float64 `json:"fine_angle_degrees"`

	// IndexAngle is the absolute fine angle latched at the index mark.
	IndexAngle float64 `json:"index_angle_degrees"`

	CoarseCommand int64 `json:"coarse_command"`
	FineCommand   int64 `json:"fine_command"`

	// InnerDigits carries the inner count field verbatim. Nothing decodes it.
	InnerDigits string `json:"inner_raw_digits,omitempty"`
}

func (r MeasurementRecord) String() string {
	return fmt.Sprintf("#%d coarse=%s (%.4f°) fine=%s (%.4f°) index=%.4f° cmd=%d/%d",
		r.Sequence, r.CoarseDigits, r.CoarseAngle, r.FineDigits, r.FineAngle,
		r.IndexAngle, r.CoarseCommand, r.FineCommand)
}

func fieldError(f SubField, digits string, err error) error {
	if de, ok := err.(*DecodeError); ok {
		return &DecodeError{Field: f.Name, Digits: digits, Err: de.Err}
	}
	return &DecodeError{Field: f.Name, Digits: digits, Err: err}
}

func angleField(payload []byte, f SubField, fullScale float64) (string, float64, error) {
	digits := f.Digits(payload)
	angle, err := DecodeAngle(digits, fullScale)
	if err != nil {
		return digits, 0, fieldError(f, digits, err)
	}
	return digits, angle, nil
}

func commandField(payload []byte, f SubField) (int64, error) {
	digits := f.Digits(payload)
	v, err := DecodeCommand(digits)
	if err != nil {
		return 0, fieldError(f, digits, err)
	}
	return v, nil
}

// Decode turns a raw frame into a MeasurementRecord carrying seq. The fine
// encoder counts in the opposite direction to the coarse encoder, so the fine
// and index angles are negated after conversion.
func Decode(frame RawFrame, seq uint64) (MeasurementRecord, error) {
	payload := frame.Payload()
	rec := MeasurementRecord{Sequence: seq}
	var err error

	if rec.CoarseCommand, err = commandField(payload, CoarseCommandField); err != nil {
		return MeasurementRecord{}, err
	}
	if rec.CoarseDigits, rec.CoarseAngle, err = angleField(payload, CoarseCountField, CoarseFullScale); err != nil {
		return MeasurementRecord{}, err
	}
	if rec.FineDigits, rec.FineAngle, err = angleField(payload, FineCountField, FineFullScale); err != nil {
		return MeasurementRecord{}, err
	}
	rec.FineAngle = -rec.FineAngle
	if rec.FineCommand, err = commandField(payload, FineCommandField); err != nil {
		return MeasurementRecord{}, err
	}
	rec.InnerDigits = InnerCountField.Digits(payload)

	var index float64
	if _, index, err = angleField(payload, IndexField, FineFullScale); err != nil {
		return MeasurementRecord{}, err
	}
	rec.IndexAngle = -index

	return rec, nil
}

// FrameFields holds signed field values for EncodeFrame.
type FrameFields struct {
	CoarseCommand int64
	CoarseCount   int64
	FineCount     int64
	FineCommand   int64
	InnerCount    int64
	IndexCount    int64
}

// EncodeFrame builds the wire frame that decodes back to fields. It is used by
// the simulated port and by tests.
func EncodeFrame(fields FrameFields) (RawFrame, error) {
	var frame RawFrame
	frame[0] = HeaderByte
	payload := frame.Payload()
	values := []struct {
		f SubField
		v int64
	}{
		{CoarseCommandField, fields.CoarseCommand},
		{CoarseCountField, fields.CoarseCount},
		{FineCountField, fields.FineCount},
		{FineCommandField, fields.FineCommand},
		{InnerCountField, fields.InnerCount},
		{IndexField, fields.IndexCount},
	}
	for _, fv := range values {
		digits, err := EncodeDigits(fv.v, fv.f.Width)
		if err != nil {
			return RawFrame{}, fmt.Errorf("%s: %w", fv.f.Name, err)
		}
		fv.f.put(payload, digits)
	}
	return frame, nil
}
