package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by fake ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with configurable behaviour
// for testing. Reads drain ReadBuffer; when it is empty a read behaves like a
// timed-out serial read and returns 0, nil after calling OnIdleRead.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// Chunks, when set, are returned one per Read call before ReadBuffer is
	// consulted. This lets tests control how the stream is split.
	Chunks [][]byte

	// OnIdleRead is called (without the lock held) when a read finds no data.
	// Tests use it to advance a mock clock by the read timeout.
	OnIdleRead func(timeout time.Duration)

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// CloseCalls records the number of Close calls
	CloseCalls int

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer: bytes.NewBuffer(nil),
	}
}

// Read returns queued chunks, then buffered data, then times out.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++

	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		t.mu.Unlock()
		return 0, err
	}

	if len(t.Chunks) > 0 {
		chunk := t.Chunks[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			t.Chunks[0] = chunk[n:]
		} else {
			t.Chunks = t.Chunks[1:]
		}
		t.mu.Unlock()
		return n, nil
	}

	if t.ReadBuffer.Len() > 0 {
		n, err := t.ReadBuffer.Read(p)
		t.mu.Unlock()
		return n, err
	}

	idle, timeout := t.OnIdleRead, t.ReadTimeout
	t.mu.Unlock()
	if idle != nil {
		idle(timeout)
	}
	return 0, nil
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.CloseCalls++
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// AddChunk queues data to be returned by a single Read call.
func (t *TestableSerialPort) AddChunk(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Chunks = append(t.Chunks, append([]byte(nil), data...))
}

// CloseCount returns how many times Close was called.
func (t *TestableSerialPort) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.CloseCalls
}

// MockOpener records Open calls and returns a fixed port or error.
type MockOpener struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path        string
	Options     PortOptions
	ReadTimeout time.Duration
}

// Open satisfies Opener.
func (m *MockOpener) Open(path string, opts PortOptions, readTimeout time.Duration) (SerialPorter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCalls = append(m.OpenCalls, MockOpenCall{Path: path, Options: opts, ReadTimeout: readTimeout})
	if m.Error != nil {
		return nil, m.Error
	}
	if ts, ok := m.Port.(TimeoutSerialPorter); ok {
		if err := ts.SetReadTimeout(readTimeout); err != nil {
			return nil, err
		}
	}
	return m.Port, nil
}
