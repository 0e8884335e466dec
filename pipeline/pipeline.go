// Package pipeline orchestrates per-frame object detection: it invokes the
// active inference backend, post-processes the raw detections, and publishes
// formatted results to a sink.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/inference"
	"github.com/camsight/camsight/vision/objectdetection"
)

// Sentinel entries published when the backend output could not be parsed.
// They distinguish a model that produced something unreadable from a model
// that genuinely saw nothing.
const (
	SentinelUnparsed  = "results present but unparsed"
	SentinelNoObjects = "no objects detected"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	// Processed counts frames that produced a published result.
	Processed uint64
	// Dropped counts frames discarded because the previous frame was still
	// being processed. Late-frame discard bounds latency; it is a deliberate
	// trade against temporal completeness.
	Dropped uint64
	// Skipped counts frames lost to recoverable inference failures. The
	// previously published result stays visible across a skip.
	Skipped uint64
}

// Pipeline processes frames with one inference backend and publishes
// results. All processing happens synchronously on the caller's goroutine;
// the frame source contract guarantees the calls are serial.
type Pipeline struct {
	backend inference.Backend
	sink    Sink
	clock   clock.Clock
	logger  golog.Logger

	topK     objectdetection.Postprocessor
	scoreCut objectdetection.Postprocessor

	busy      int32
	processed uint64
	dropped   uint64
	skipped   uint64
}

// New builds a pipeline around the given backend. The confidence threshold
// and result cap come from the backend's own parameters.
func New(backend inference.Backend, sink Sink, clk clock.Clock, logger golog.Logger) *Pipeline {
	params := backend.Params()
	return &Pipeline{
		backend:  backend,
		sink:     sink,
		clock:    clk,
		logger:   logger,
		scoreCut: objectdetection.NewScoreFilter(params.ConfidenceThreshold),
		topK:     objectdetection.NewTopKFilter(params.MaxResults),
	}
}

// TryOnFrame processes the frame unless the previous frame is still in
// flight, in which case the frame is discarded and false is returned.
// Inference cannot be preempted, so dropping late frames is what keeps the
// pipeline from falling arbitrarily behind the capture cadence.
func (p *Pipeline) TryOnFrame(ctx context.Context, frame camera.Frame) bool {
	if !atomic.CompareAndSwapInt32(&p.busy, 0, 1) {
		atomic.AddUint64(&p.dropped, 1)
		return false
	}
	defer atomic.StoreInt32(&p.busy, 0)
	p.OnFrame(ctx, frame)
	return true
}

// OnFrame runs detection on one frame and publishes the outcome. Errors are
// absorbed here: an inference failure skips the frame and holds the last
// published value, unrecognized model output publishes a degraded sentinel
// result. Nothing propagates upward into the capture loop.
func (p *Pipeline) OnFrame(ctx context.Context, frame camera.Frame) {
	start := p.clock.Now()

	detections, err := p.backend.Infer(ctx, frame)
	if err != nil {
		var unrecognized *inference.UnrecognizedOutputError
		if errors.As(err, &unrecognized) {
			entry := SentinelNoObjects
			if unrecognized.RawValues > 0 {
				entry = SentinelUnparsed
			}
			p.sink.PublishDetections(Result{
				Entries:   []string{entry},
				LatencyMs: p.elapsedMs(start),
			})
			return
		}
		atomic.AddUint64(&p.skipped, 1)
		p.logger.Debugw("inference failed, skipping frame", "backend", p.backend.Name(), "error", err)
		return
	}

	detections = p.scoreCut(detections)
	detections = objectdetection.SortByDescendingScore(detections)
	detections = p.topK(detections)

	p.sink.PublishDetections(Result{
		Entries:   objectdetection.FormatEntries(detections),
		LatencyMs: p.elapsedMs(start),
	})
	atomic.AddUint64(&p.processed, 1)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: atomic.LoadUint64(&p.processed),
		Dropped:   atomic.LoadUint64(&p.dropped),
		Skipped:   atomic.LoadUint64(&p.skipped),
	}
}

func (p *Pipeline) elapsedMs(start time.Time) float64 {
	return float64(p.clock.Since(start)) / float64(time.Millisecond)
}
