package mjpeg

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJPEG builds a marker-delimited payload of exactly size bytes whose body
// never contains a marker.
func fakeJPEG(size int, fill byte) []byte {
	b := bytes.Repeat([]byte{fill}, size)
	copy(b, startMarker)
	copy(b[size-2:], endMarker)
	return b
}

func TestFeedTwoConcatenatedFrames(t *testing.T) {
	a := fakeJPEG(200, 0x11)
	b := fakeJPEG(300, 0x22)

	d := NewDemuxer()
	frames := d.Feed(append(append([]byte{}, a...), b...))

	require.Len(t, frames, 2)
	assert.Equal(t, a, frames[0].Data)
	assert.Equal(t, b, frames[1].Data)
	assert.Equal(t, uint64(1), frames[0].Sequence)
	assert.Equal(t, uint64(2), frames[1].Sequence)
	assert.Zero(t, d.Buffered())
}

func TestFeedFrameSplitAcrossCalls(t *testing.T) {
	f := fakeJPEG(500, 0x33)
	d := NewDemuxer()

	assert.Empty(t, d.Feed(f[:2]))
	assert.Equal(t, 2, d.Buffered())

	frames := d.Feed(f[2:])
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
	assert.Zero(t, d.Buffered())
}

func TestFeedMarkerSplitMidMarker(t *testing.T) {
	f := fakeJPEG(150, 0x44)
	d := NewDemuxer()

	// First half of the start marker alone.
	assert.Empty(t, d.Feed(f[:1]))
	assert.Equal(t, 1, d.Buffered())

	// Everything up to the first half of the end marker.
	assert.Empty(t, d.Feed(f[1:len(f)-1]))

	frames := d.Feed(f[len(f)-1:])
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

func TestFeedDiscardsLeadingGarbage(t *testing.T) {
	f := fakeJPEG(120, 0x55)
	d := NewDemuxer()

	garbage := []byte("gphoto2 banner text\n")
	assert.Empty(t, d.Feed(garbage))
	assert.Zero(t, d.Buffered())

	frames := d.Feed(append([]byte{0x00, 0x01}, f...))
	require.Len(t, frames, 1)
	assert.Equal(t, f, frames[0].Data)
}

func TestFeedDropsUndersizedFrames(t *testing.T) {
	tiny := fakeJPEG(40, 0x66)
	ok := fakeJPEG(100, 0x77)

	d := NewDemuxer()
	frames := d.Feed(append(append([]byte{}, tiny...), ok...))

	require.Len(t, frames, 1)
	assert.Equal(t, ok, frames[0].Data)
	assert.Equal(t, 1, d.Dropped())
}

func TestFeedDoesNotRetainEmittedBytes(t *testing.T) {
	d := NewDemuxer()
	f := fakeJPEG(1000, 0x12)
	partial := fakeJPEG(400, 0x34)

	for i := 0; i < 50; i++ {
		frames := d.Feed(f)
		require.Len(t, frames, 1)
		assert.Zero(t, d.Buffered())
	}

	d.Feed(partial[:100])
	assert.Equal(t, 100, d.Buffered())
}

func TestEmittedFrameIsIndependentOfBuffer(t *testing.T) {
	d := NewDemuxer()
	f := fakeJPEG(200, 0x21)
	frames := d.Feed(f)
	require.Len(t, frames, 1)

	// Feeding more data must not mutate the frame we already handed out.
	d.Feed(fakeJPEG(200, 0x99))
	assert.Equal(t, f, frames[0].Data)
}

func TestTimestampsFromClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDemuxer(WithClock(func() time.Time { return at }), WithMinFrameSize(4))

	frames := d.Feed([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	require.Len(t, frames, 1)
	assert.Equal(t, at, frames[0].Timestamp)
}

func TestReset(t *testing.T) {
	d := NewDemuxer()
	d.Feed(fakeJPEG(300, 0x10)[:150])
	require.NotZero(t, d.Buffered())

	d.Reset()
	assert.Zero(t, d.Buffered())
}
