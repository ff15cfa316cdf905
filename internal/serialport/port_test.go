package serialport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/encoderlog/internal/encoder"
	"github.com/banshee-data/encoderlog/internal/timeutil"
)

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   PortOptions{},
			want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "long parity names",
			in:   PortOptions{BaudRate: 115200, Parity: " even "},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"},
		},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)

	_, err = PortOptions{Parity: "X"}.SerialMode()
	assert.Error(t, err)
}

func TestPortOptionsString(t *testing.T) {
	assert.Equal(t, "460800 8N1", PortOptions{}.String())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", PortOptions{}, time.Second)
	assert.Error(t, err)
}

func TestTestableSerialPort(t *testing.T) {
	port := NewTestableSerialPort()
	idle := 0
	port.OnIdleRead = func(timeout time.Duration) {
		idle++
		assert.Equal(t, 50*time.Millisecond, timeout)
	}
	require.NoError(t, port.SetReadTimeout(50*time.Millisecond))

	port.AddChunk([]byte("abc"))
	port.AddReadData([]byte("def"))

	buf := make([]byte, 2)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(buf[:n]))
	n, _ = port.Read(buf)
	assert.Equal(t, "c", string(buf[:n]))
	n, _ = port.Read(buf)
	assert.Equal(t, "de", string(buf[:n]))
	n, _ = port.Read(buf)
	assert.Equal(t, "f", string(buf[:n]))

	n, err = port.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, idle)

	port.ReadError = errors.New("unplugged")
	_, err = port.Read(buf)
	assert.EqualError(t, err, "unplugged")

	require.NoError(t, port.Close())
	_, err = port.Read(buf)
	assert.ErrorIs(t, err, ErrPortClosed)
	assert.Equal(t, 1, port.CloseCount())
}

func TestMockOpener(t *testing.T) {
	port := NewTestableSerialPort()
	opener := &MockOpener{Port: port}

	got, err := opener.Open("/dev/ttyUSB0", PortOptions{BaudRate: 9600}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, port, got)
	assert.Equal(t, 20*time.Millisecond, port.ReadTimeout)
	require.Len(t, opener.OpenCalls, 1)
	assert.Equal(t, "/dev/ttyUSB0", opener.OpenCalls[0].Path)

	opener.Error = errors.New("busy")
	_, err = opener.Open("/dev/ttyUSB0", PortOptions{}, 0)
	assert.EqualError(t, err, "busy")
}

func TestSimulatedPortEmitsDecodableFrames(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 4, 25, 14, 22, 44, 0, time.UTC))
	port := NewSimulatedPort(SimulationConfig{
		FrameRate:   100,
		SlewRate:    90,
		GearRatio:   1,
		NoiseEvery:  3,
		ReadTimeout: 50 * time.Millisecond,
		Clock:       clock,
	})

	var stream encoder.StreamBuffer
	var records []encoder.MeasurementRecord
	buf := make([]byte, 256)
	for i := 0; i < 40; i++ {
		n, err := port.Read(buf)
		require.NoError(t, err)
		stream.Append(buf[:n])
		for {
			frame, ok := stream.Next()
			if !ok {
				break
			}
			rec, err := encoder.Decode(frame, uint64(len(records)+1))
			require.NoError(t, err)
			records = append(records, rec)
		}
	}

	require.NotEmpty(t, records)
	assert.Greater(t, stream.Discarded(), uint64(0), "noise should have been skipped")
	// 90 deg/s at 100 frames/s is 0.9 degrees per frame.
	first := records[0]
	assert.InDelta(t, 0.9, first.CoarseAngle, 1e-3)
	assert.InDelta(t, 0.9, first.FineAngle, 1e-3)
	assert.Equal(t, int64(90), first.CoarseCommand)

	require.NoError(t, port.Close())
	_, err := port.Read(buf)
	assert.ErrorIs(t, err, ErrPortClosed)
}

// gatedClock blocks Sleep until release is closed.
type gatedClock struct {
	*timeutil.MockClock
	sleeping chan struct{}
	release  chan struct{}
}

func (c *gatedClock) Sleep(d time.Duration) {
	close(c.sleeping)
	<-c.release
	c.MockClock.Sleep(d)
}

func TestSimulatedPortCloseDuringRead(t *testing.T) {
	clock := &gatedClock{
		MockClock: timeutil.NewMockClock(time.Date(2025, 4, 25, 14, 22, 44, 0, time.UTC)),
		sleeping:  make(chan struct{}),
		release:   make(chan struct{}),
	}
	port := NewSimulatedPort(SimulationConfig{
		FrameRate:   10,
		ReadTimeout: time.Second,
		Clock:       clock,
	})

	readErr := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 64))
		readErr <- err
	}()
	<-clock.sleeping

	closed := make(chan struct{})
	go func() {
		port.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a waiting Read")
	}

	close(clock.release)
	assert.ErrorIs(t, <-readErr, ErrPortClosed)
}
