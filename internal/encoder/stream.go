package encoder

import "bytes"

// StreamBuffer accumulates bytes read from the link until they form complete
// frames. It is not safe for concurrent use; the acquisition loop owns it.
//
// Framing keys off the first header byte in the buffer. A payload byte that
// happens to equal HeaderByte can therefore cause a misframe when the stream
// is entered mid-frame; there is no checksum to detect it.
type StreamBuffer struct {
	buf       []byte
	discarded uint64
}

// Append adds newly read bytes to the end of the buffer.
func (s *StreamBuffer) Append(p []byte) {
	s.buf = append(s.buf, p...)
}

// Len returns the number of buffered bytes not yet consumed.
func (s *StreamBuffer) Len() int {
	return len(s.buf)
}

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// call that modifies the buffer.
func (s *StreamBuffer) Bytes() []byte {
	return s.buf
}

// Discarded returns the number of bytes dropped while resynchronising.
func (s *StreamBuffer) Discarded() uint64 {
	return s.discarded
}

// Reset empties the buffer.
func (s *StreamBuffer) Reset() {
	s.buf = s.buf[:0]
}

// consume drops the first n bytes, reusing the backing array.
func (s *StreamBuffer) consume(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// Next extracts the next complete frame. Bytes ahead of the first header byte
// are discarded once a header is found. When no header is present the buffer
// is left untouched; when a header is present but the frame is incomplete the
// buffer is kept from the header onward and ok is false.
func (s *StreamBuffer) Next() (frame RawFrame, ok bool) {
	start := bytes.IndexByte(s.buf, HeaderByte)
	if start < 0 {
		return frame, false
	}
	if start > 0 {
		s.discarded += uint64(start)
		s.consume(start)
	}
	if len(s.buf) < MessageLength {
		return frame, false
	}
	copy(frame[:], s.buf[:MessageLength])
	s.consume(MessageLength)
	return frame, true
}

// ExtractFrames slices every complete frame out of buf and returns them with
// the bytes left over for the next call. buf is not modified.
func ExtractFrames(buf []byte) (frames []RawFrame, remaining []byte) {
	s := StreamBuffer{buf: append([]byte(nil), buf...)}
	for {
		frame, ok := s.Next()
		if !ok {
			return frames, s.buf
		}
		frames = append(frames, frame)
	}
}
