// Package camera provides the frame capture sources that feed the detection
// pipeline and the recording controller.
package camera

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// Orientation is a hint describing how a captured frame must be rotated to
// be upright. Sources that cannot determine orientation report OrientationUp.
type Orientation int

// Supported frame orientations, named for the clockwise rotation that makes
// the frame upright.
const (
	OrientationUp Orientation = iota
	OrientationRight
	OrientationDown
	OrientationLeft
)

// Frame is one captured video sample. The pixel data is owned by the capture
// source for the duration of the handler call; a consumer that wants to keep
// it past that scope must copy it.
type Frame struct {
	Image       image.Image
	CapturedAt  time.Time
	Orientation Orientation
}

// Upright returns the frame image rotated according to the orientation hint.
// Frames already upright are returned as is, without a copy.
func (f Frame) Upright() image.Image {
	switch f.Orientation {
	case OrientationRight:
		return imaging.Rotate270(f.Image)
	case OrientationDown:
		return imaging.Rotate180(f.Image)
	case OrientationLeft:
		return imaging.Rotate90(f.Image)
	default:
		return f.Image
	}
}

// Handler consumes one frame. A source calls its handler serially, never
// concurrently, so per-frame ordering is strict. A handler that cannot keep
// up causes frames to be dropped, never queued.
type Handler func(ctx context.Context, frame Frame)

// Source delivers frames to a handler on a fixed cadence.
type Source interface {
	// Start begins delivery to the given handler. It returns once capture is
	// running; delivery continues until the context is cancelled or Close is
	// called. At most one in-flight delivery exists per source.
	Start(ctx context.Context, deliver Handler) error

	// Close stops capture and releases underlying resources.
	Close(ctx context.Context) error
}
