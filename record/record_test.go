package record_test

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/pipeline"
	"github.com/camsight/camsight/record"
)

// fakeWriter counts frames and finalizes to its own path.
type fakeWriter struct {
	mu           sync.Mutex
	path         string
	frames       int
	failWrite    bool
	failFinalize bool
	finalized    bool
}

func (w *fakeWriter) WriteFrame(frame camera.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWrite {
		return errors.New("disk full")
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Finalize() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	if w.failFinalize {
		return "", errors.New("moov atom write failed")
	}
	return w.path, nil
}

// channelSink signals recording publishes and errors over channels so tests
// can await the controller's asynchronous acknowledgments.
type channelSink struct {
	states chan pipeline.RecordingState
	errs   chan error
}

func newChannelSink() *channelSink {
	return &channelSink{
		states: make(chan pipeline.RecordingState, 8),
		errs:   make(chan error, 8),
	}
}

func (s *channelSink) PublishDetections(pipeline.Result)           {}
func (s *channelSink) PublishRecording(st pipeline.RecordingState) { s.states <- st }
func (s *channelSink) NotifyError(err error)                       { s.errs <- err }

func (s *channelSink) nextState(t *testing.T) pipeline.RecordingState {
	t.Helper()
	select {
	case st := <-s.states:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("no recording state published")
		return pipeline.RecordingState{}
	}
}

func (s *channelSink) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("no error event published")
		return nil
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	sink := newChannelSink()
	var writers []*fakeWriter
	factory := func(path string) (record.Writer, error) {
		w := &fakeWriter{path: path}
		writers = append(writers, w)
		return w, nil
	}
	ctl := record.NewController(t.TempDir(), factory, sink, clock.New(), golog.NewTestLogger(t))

	test.That(t, ctl.IsRecording(), test.ShouldBeFalse)
	test.That(t, ctl.Start(), test.ShouldBeNil)
	test.That(t, ctl.IsRecording(), test.ShouldBeTrue)
	test.That(t, sink.nextState(t).IsRecording, test.ShouldBeTrue)

	frame := camera.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	ctl.OnFrame(context.Background(), frame)
	ctl.OnFrame(context.Background(), frame)

	ctl.Stop()
	final := sink.nextState(t)
	test.That(t, final.IsRecording, test.ShouldBeFalse)
	test.That(t, final.OutputPath, test.ShouldEqual, writers[0].path)
	test.That(t, ctl.IsRecording(), test.ShouldBeFalse)
	test.That(t, writers[0].frames, test.ShouldEqual, 2)
	test.That(t, writers[0].finalized, test.ShouldBeTrue)
}

func TestStartIsIdempotent(t *testing.T) {
	sink := newChannelSink()
	var writers []*fakeWriter
	factory := func(path string) (record.Writer, error) {
		w := &fakeWriter{path: path}
		writers = append(writers, w)
		return w, nil
	}
	ctl := record.NewController(t.TempDir(), factory, sink, clock.New(), golog.NewTestLogger(t))

	test.That(t, ctl.Start(), test.ShouldBeNil)
	// a second start while recording opens nothing new
	test.That(t, ctl.Start(), test.ShouldBeNil)
	test.That(t, writers, test.ShouldHaveLength, 1)

	ctl.Stop()
	sink.nextState(t) // started
	final := sink.nextState(t)
	test.That(t, final.OutputPath, test.ShouldEqual, writers[0].path)
	// exactly one session file was produced
	test.That(t, writers, test.ShouldHaveLength, 1)
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	sink := newChannelSink()
	factory := func(path string) (record.Writer, error) {
		t.Fatal("no writer should be opened")
		return nil, nil
	}
	ctl := record.NewController(t.TempDir(), factory, sink, clock.New(), golog.NewTestLogger(t))

	ctl.Stop()
	test.That(t, ctl.IsRecording(), test.ShouldBeFalse)
	select {
	case st := <-sink.states:
		t.Fatalf("unexpected state publish %v", st)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionPathsAreUnique(t *testing.T) {
	sink := newChannelSink()
	paths := map[string]bool{}
	factory := func(path string) (record.Writer, error) {
		paths[path] = true
		return &fakeWriter{path: path}, nil
	}
	// a mock clock never advances, so uniqueness cannot come from time alone
	ctl := record.NewController(t.TempDir(), factory, sink, clock.NewMock(), golog.NewTestLogger(t))

	for i := 0; i < 3; i++ {
		test.That(t, ctl.Start(), test.ShouldBeNil)
		ctl.Stop()
		sink.nextState(t) // started
		sink.nextState(t) // finished
	}
	test.That(t, len(paths), test.ShouldEqual, 3)
}

func TestFinalizeFailurePublishesNoPath(t *testing.T) {
	sink := newChannelSink()
	factory := func(path string) (record.Writer, error) {
		return &fakeWriter{path: path, failFinalize: true}, nil
	}
	ctl := record.NewController(t.TempDir(), factory, sink, clock.New(), golog.NewTestLogger(t))

	test.That(t, ctl.Start(), test.ShouldBeNil)
	sink.nextState(t) // started
	ctl.Stop()

	err := sink.nextError(t)
	test.That(t, err.Error(), test.ShouldContainSubstring, "moov atom")
	final := sink.nextState(t)
	test.That(t, final.IsRecording, test.ShouldBeFalse)
	test.That(t, final.OutputPath, test.ShouldEqual, "")
	// the controller is not wedged; a new session can start
	test.That(t, ctl.IsRecording(), test.ShouldBeFalse)
	test.That(t, ctl.Start(), test.ShouldBeNil)
	ctl.Stop()
}

func TestWriteFailureAbortsSession(t *testing.T) {
	sink := newChannelSink()
	var writers []*fakeWriter
	factory := func(path string) (record.Writer, error) {
		w := &fakeWriter{path: path, failWrite: true}
		writers = append(writers, w)
		return w, nil
	}
	ctl := record.NewController(t.TempDir(), factory, sink, clock.New(), golog.NewTestLogger(t))

	test.That(t, ctl.Start(), test.ShouldBeNil)
	sink.nextState(t) // started

	frame := camera.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	ctl.OnFrame(context.Background(), frame)

	err := sink.nextError(t)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk full")
	final := sink.nextState(t)
	test.That(t, final.IsRecording, test.ShouldBeFalse)
	test.That(t, final.OutputPath, test.ShouldEqual, "")
	test.That(t, ctl.IsRecording(), test.ShouldBeFalse)

	// later frames are ignored without a session
	ctl.OnFrame(context.Background(), frame)
	test.That(t, ctl.Close(context.Background()), test.ShouldBeNil)
}
