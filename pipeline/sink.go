package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	viamutils "go.viam.com/utils"
)

// Result is the published output of one processed frame: the formatted
// entries ordered by descending confidence and the processing latency.
// A result replaces the previous one wholesale; consumers never merge.
type Result struct {
	Entries   []string
	LatencyMs float64
}

// RecordingState is the published state of the recording controller. When a
// session finalizes cleanly, OutputPath carries the finished file exactly
// once; it is empty otherwise.
type RecordingState struct {
	IsRecording bool
	OutputPath  string
}

// Sink consumes the published detection and recording state. Every publish
// replaces the consumer's current displayed state; it is not additive.
type Sink interface {
	PublishDetections(result Result)
	PublishRecording(state RecordingState)
	// NotifyError surfaces a one-shot, non-fatal event such as a failed
	// recording finalize.
	NotifyError(err error)
}

// AsyncSink decouples the capture goroutine from a slow consumer. Each
// publish lands in a single-slot mailbox, overwriting any unconsumed value,
// and a forwarding goroutine delivers the latest state to the wrapped sink.
// Publishing never blocks the caller and never reorders the publishes of one
// kind, which preserves the serial order of the capture goroutine. Error
// notifications are one-shot, so those are queued rather than overwritten.
// Across kinds a forward batch delivers errors first, then recording state,
// then detections; since every publish replaces the consumer's current state
// wholesale, cross-kind order carries no meaning.
type AsyncSink struct {
	wrapped Sink

	mu         sync.Mutex
	cond       *sync.Cond
	detections *Result
	recording  *RecordingState
	errs       []error

	overwrites uint64

	cancel  context.CancelFunc
	workers sync.WaitGroup
	started bool
}

// NewAsyncSink wraps the given sink.
func NewAsyncSink(wrapped Sink) *AsyncSink {
	s := &AsyncSink{wrapped: wrapped}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the forwarding goroutine.
func (s *AsyncSink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.workers.Add(1)
	viamutils.ManagedGo(func() {
		s.forwardLoop(ctx)
	}, s.workers.Done)
}

// Close stops forwarding. Unconsumed state is discarded.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	s.cancel()
	s.cond.Broadcast()
	s.workers.Wait()
}

// PublishDetections stores the result in the mailbox, overwriting any
// unconsumed previous result.
func (s *AsyncSink) PublishDetections(result Result) {
	s.mu.Lock()
	if s.detections != nil {
		atomic.AddUint64(&s.overwrites, 1)
	}
	s.detections = &result
	s.cond.Signal()
	s.mu.Unlock()
}

// PublishRecording stores the recording state in the mailbox, overwriting
// any unconsumed previous state.
func (s *AsyncSink) PublishRecording(state RecordingState) {
	s.mu.Lock()
	s.recording = &state
	s.cond.Signal()
	s.mu.Unlock()
}

// NotifyError queues the error for delivery. Errors are never dropped.
func (s *AsyncSink) NotifyError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.cond.Signal()
	s.mu.Unlock()
}

// Overwrites reports how many unconsumed detection results were replaced
// before the consumer saw them.
func (s *AsyncSink) Overwrites() uint64 {
	return atomic.LoadUint64(&s.overwrites)
}

func (s *AsyncSink) forwardLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		for s.detections == nil && s.recording == nil && len(s.errs) == 0 {
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
		}
		detections := s.detections
		recording := s.recording
		errs := s.errs
		s.detections, s.recording, s.errs = nil, nil, nil
		s.mu.Unlock()

		// forward outside the lock so a slow consumer never blocks publishers
		for _, err := range errs {
			s.wrapped.NotifyError(err)
		}
		if recording != nil {
			s.wrapped.PublishRecording(*recording)
		}
		if detections != nil {
			s.wrapped.PublishDetections(*detections)
		}
	}
}
