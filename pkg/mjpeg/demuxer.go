// Package mjpeg splits a concatenated JPEG byte stream (as written by a
// camera's live-view mode) into individual frames.
package mjpeg

import (
	"bytes"
	"time"
)

// MinFrameSize is the smallest plausible JPEG. Anything shorter between a
// start and end marker is decode noise.
const MinFrameSize = 100

var (
	startMarker = []byte{0xFF, 0xD8}
	endMarker   = []byte{0xFF, 0xD9}
)

// Frame is one delimited JPEG. Data is owned by the receiver.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Sequence  uint64
}

// Demuxer is a state machine fed with arbitrary chunks of the stream. It is
// not safe for concurrent use; feed it from the goroutine reading the pipe.
type Demuxer struct {
	buf     []byte
	minSize int
	seq     uint64
	dropped int
	now     func() time.Time
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithMinFrameSize overrides MinFrameSize.
func WithMinFrameSize(n int) Option {
	return func(d *Demuxer) { d.minSize = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Demuxer) { d.now = now }
}

// NewDemuxer creates an empty Demuxer.
func NewDemuxer(opts ...Option) *Demuxer {
	d := &Demuxer{minSize: MinFrameSize, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends p to the retained tail and returns every complete frame now
// available, in stream order.
func (d *Demuxer) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)

	var frames []Frame
	consumed := 0
	for {
		rest := d.buf[consumed:]

		start := bytes.Index(rest, startMarker)
		if start < 0 {
			// Keep a trailing 0xFF: it may be the first half of a start marker.
			if n := len(rest); n > 0 && rest[n-1] == startMarker[0] {
				consumed += n - 1
			} else {
				consumed += n
			}
			break
		}
		consumed += start
		rest = rest[start:]

		end := bytes.Index(rest[len(startMarker):], endMarker)
		if end < 0 {
			break
		}
		size := len(startMarker) + end + len(endMarker)
		consumed += size

		if size < d.minSize {
			d.dropped++
			continue
		}

		data := make([]byte, size)
		copy(data, rest[:size])
		d.seq++
		frames = append(frames, Frame{Data: data, Timestamp: d.now(), Sequence: d.seq})
	}

	// Copy the unconsumed tail down so emitted bytes are not retained.
	n := copy(d.buf, d.buf[consumed:])
	d.buf = d.buf[:n]

	return frames
}

// Buffered returns the number of bytes held waiting for a complete frame.
func (d *Demuxer) Buffered() int { return len(d.buf) }

// Dropped returns how many undersized frames have been discarded.
func (d *Demuxer) Dropped() int { return d.dropped }

// Reset discards any buffered bytes.
func (d *Demuxer) Reset() {
	d.buf = d.buf[:0]
}
