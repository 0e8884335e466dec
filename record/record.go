// Package record persists the live frame stream to a media file. The
// controller is an independent consumer of the frame feed: it shares no
// mutable state with the detection pipeline and must never stall it.
package record

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	viamutils "go.viam.com/utils"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/pipeline"
)

// State is the recording state machine position.
type State int

// The controller is either idle or holds an open session.
const (
	StateIdle State = iota
	StateRecording
)

// Writer receives the frames of one session and produces one output file.
// The controller owns the writer exclusively for the session lifetime.
type Writer interface {
	// WriteFrame appends one frame. An error is terminal for the session.
	WriteFrame(frame camera.Frame) error
	// Finalize flushes and closes the output, returning the finished path.
	// It blocks until the underlying muxer confirms completion.
	Finalize() (string, error)
}

// WriterFactory opens a writer for a fresh output path.
type WriterFactory func(path string) (Writer, error)

// Controller is the recording state machine: Idle -> Start -> Recording ->
// Stop or terminal write error -> Idle. Start and Stop are idempotent. The
// transition back to Idle after Stop happens only once the writer has
// acknowledged finalization; only then is the output path published. A
// failed finalize or a failed write reverts to Idle without publishing a
// path and surfaces exactly one error event, so the controller can never be
// left wedged in Recording by a write failure.
type Controller struct {
	dir     string
	factory WriterFactory
	sink    pipeline.Sink
	clock   clock.Clock
	logger  golog.Logger

	mu      sync.Mutex
	state   State
	writer  Writer
	workers sync.WaitGroup
}

// NewController creates an idle controller writing sessions into dir.
func NewController(dir string, factory WriterFactory, sink pipeline.Sink, clk clock.Clock, logger golog.Logger) *Controller {
	return &Controller{
		dir:     dir,
		factory: factory,
		sink:    sink,
		clock:   clk,
		logger:  logger,
		state:   StateIdle,
	}
}

// IsRecording reports whether a session is open.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRecording
}

// Start opens a fresh session. Calling Start while already recording is a
// no-op that leaves the open session untouched.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRecording {
		return nil
	}
	path := c.sessionPath()
	writer, err := c.factory(path)
	if err != nil {
		return errors.Wrapf(err, "opening recording output %s", path)
	}
	c.writer = writer
	c.state = StateRecording
	c.logger.Infow("recording started", "path", path)
	c.sink.PublishRecording(pipeline.RecordingState{IsRecording: true})
	return nil
}

// Stop requests finalization of the open session. Calling Stop while idle is
// a no-op. Completion is asynchronous: the controller transitions to Idle
// and publishes the finished output path only after the writer acknowledges.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRecording || c.writer == nil {
		c.mu.Unlock()
		return
	}
	writer := c.writer
	c.writer = nil // no frame may be written after the stop request
	c.mu.Unlock()

	c.workers.Add(1)
	viamutils.ManagedGo(func() {
		path, err := writer.Finalize()
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		if err != nil {
			c.logger.Errorw("finalizing recording failed", "error", err)
			c.sink.NotifyError(errors.Wrap(err, "finalizing recording"))
			c.sink.PublishRecording(pipeline.RecordingState{IsRecording: false})
			return
		}
		c.logger.Infow("recording finished", "path", path)
		c.sink.PublishRecording(pipeline.RecordingState{IsRecording: false, OutputPath: path})
	}, c.workers.Done)
}

// OnFrame appends the frame to the open session, if any. A write failure is
// terminal: the session reverts to Idle, no path is published, and one error
// event is surfaced.
func (c *Controller) OnFrame(ctx context.Context, frame camera.Frame) {
	c.mu.Lock()
	if c.state != StateRecording || c.writer == nil {
		c.mu.Unlock()
		return
	}
	writer := c.writer
	err := writer.WriteFrame(frame)
	if err == nil {
		c.mu.Unlock()
		return
	}
	c.writer = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Errorw("recording write failed, session aborted", "error", err)
	c.sink.NotifyError(errors.Wrap(err, "writing recording frame"))
	c.sink.PublishRecording(pipeline.RecordingState{IsRecording: false})

	// release the partial output in the background; its path is never published
	c.workers.Add(1)
	viamutils.ManagedGo(func() {
		if _, ferr := writer.Finalize(); ferr != nil {
			c.logger.Debugw("discarding aborted session", "error", ferr)
		}
	}, c.workers.Done)
}

// Close stops any open session and waits for finalization to complete.
func (c *Controller) Close(ctx context.Context) error {
	c.Stop()
	c.workers.Wait()
	return nil
}

// sessionPath derives a per-session output name from the current time plus a
// short random suffix, so no two sessions in one process collide even within
// the same timestamp granularity.
func (c *Controller) sessionPath() string {
	stamp := c.clock.Now().Format("20060102_150405")
	suffix := uuid.New().String()[:8]
	return filepath.Join(c.dir, fmt.Sprintf("rec_%s_%s.mp4", stamp, suffix))
}
