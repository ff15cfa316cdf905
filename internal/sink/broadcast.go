package sink

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/encoderlog/internal/encoder"
)

// Broadcaster fans records out to any number of subscribers without ever
// blocking the writer: a subscriber that is not ready misses the record.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan encoder.MeasurementRecord
	buffer      int
	closed      bool
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold up to
// buffer records.
func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan encoder.MeasurementRecord),
		buffer:      buffer,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving records. The ID is used to
// unsubscribe. After Close the returned channel is already closed.
func (b *Broadcaster) Subscribe() (string, <-chan encoder.MeasurementRecord) {
	id := randomID()
	ch := make(chan encoder.MeasurementRecord, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broadcaster) Write(rec encoder.MeasurementRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- rec:
		default:
			// subscriber is behind; skip so the acquisition loop never blocks
		}
	}
	return nil
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}
