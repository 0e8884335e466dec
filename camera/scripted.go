package camera

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// ScriptedSource delivers a fixed sequence of frames and then stops. Each
// frame is handed to the handler synchronously in order, which makes the
// source a stand-in for a live camera in tests.
type ScriptedSource struct {
	frames []Frame
	clock  clock.Clock

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewScriptedSource returns a source that plays back the given frames.
func NewScriptedSource(frames []Frame, clk clock.Clock) *ScriptedSource {
	return &ScriptedSource{frames: frames, clock: clk, done: make(chan struct{})}
}

// Start delivers every scripted frame to the handler, stamping frames that
// carry no timestamp with the source clock. It blocks until playback ends
// or the context is cancelled.
func (ss *ScriptedSource) Start(ctx context.Context, deliver Handler) error {
	defer close(ss.done)
	for _, frame := range ss.frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ss.mu.Lock()
		closed := ss.closed
		ss.mu.Unlock()
		if closed {
			return nil
		}
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = ss.clock.Now()
		}
		deliver(ctx, frame)
	}
	return nil
}

// Close stops playback before the next frame.
func (ss *ScriptedSource) Close(ctx context.Context) error {
	ss.mu.Lock()
	ss.closed = true
	ss.mu.Unlock()
	return nil
}
