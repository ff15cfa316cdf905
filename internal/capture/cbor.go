// Package capture records the raw byte stream of an acquisition run to a
// CBOR file and replays it later as a byte source.
//
// A capture file is a CBOR Header followed by a sequence of Chunk items, one
// per non-empty read from the link.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is written into every capture header.
const FormatVersion = 1

// Header opens a capture file.
type Header struct {
	Version   int       `cbor:"1,keyasint"`
	RunID     string    `cbor:"2,keyasint,omitempty"`
	Source    string    `cbor:"3,keyasint,omitempty"`
	StartedAt time.Time `cbor:"4,keyasint"`
}

// Chunk is the data returned by one read, stamped with its offset from
// Header.StartedAt.
type Chunk struct {
	Offset time.Duration `cbor:"1,keyasint"`
	Data   []byte        `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
