package capture

import (
	"sync"

	"github.com/video-system/go-photo-kiosk/pkg/camera"
)

// Broadcaster fans preview frames out to any number of viewers. A slow
// viewer loses frames instead of holding up the camera.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan camera.PreviewFrame]struct{}
	latest *camera.PreviewFrame
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan camera.PreviewFrame]struct{})}
}

// Publish delivers f to every subscriber that has room for it.
func (b *Broadcaster) Publish(f camera.PreviewFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &f
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Subscribe returns a frame channel and a function that unsubscribes and
// closes it. The most recent frame, if any, is delivered first.
func (b *Broadcaster) Subscribe(buffer int) (<-chan camera.PreviewFrame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan camera.PreviewFrame, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.latest != nil {
		ch <- *b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Reset forgets the last frame, e.g. when the preview stops.
func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.latest = nil
	b.mu.Unlock()
}

// Subscribers returns the number of active viewers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
