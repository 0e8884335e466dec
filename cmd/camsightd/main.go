// Package main runs the camsight daemon: it captures frames from one
// camera, runs object detection on them, and records the stream to a file
// on request. Results are logged; SIGUSR1 starts a recording session and
// SIGUSR2 stops it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/config"
	"github.com/camsight/camsight/inference"
	"github.com/camsight/camsight/pipeline"
	"github.com/camsight/camsight/record"
)

var logger = golog.NewDevelopmentLogger("camsightd")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigPath string `flag:"config,usage=path to config file"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.ConfigPath == "" {
		argsParsed.ConfigPath = config.DefaultConfigPath
	}
	cfg, err := config.Load(argsParsed.ConfigPath, logger)
	if err != nil {
		return err
	}
	return runDaemon(ctx, cfg, logger)
}

func runDaemon(ctx context.Context, cfg *config.Config, logger golog.Logger) (err error) {
	clk := clock.New()

	backend, err := inference.Select([]inference.Candidate{
		{Name: "tflite", Construct: func() (inference.Backend, error) {
			return inference.NewTFLiteBackend(cfg.Model, logger)
		}},
		{Name: "luminance", Construct: func() (inference.Backend, error) {
			return inference.NewLuminanceBackend(100), nil
		}},
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, backend.Close())
	}()

	params, err := cfg.BackendParams(backend.Name(), backend.Params())
	if err != nil {
		return err
	}
	backend = inference.WithParams(backend, params)

	sink := pipeline.NewAsyncSink(&logSink{logger})
	sink.Start(ctx)
	defer sink.Close()

	pipe := pipeline.New(backend, sink, clk, logger)

	recorder := record.NewController(cfg.Recording.Dir, func(path string) (record.Writer, error) {
		return record.NewFFmpegWriter(path, record.FFmpegWriterConfig{
			Width:     cfg.Recording.Width,
			Height:    cfg.Recording.Height,
			FrameRate: cfg.Recording.FrameRate,
			Stabilize: cfg.Recording.Stabilize,
		}, logger)
	}, sink, clk, logger)
	defer func() {
		err = multierr.Combine(err, recorder.Close(ctx))
	}()

	source, err := camera.NewFFmpegSource(cfg.Camera, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, source.Close(ctx))
	}()

	// detection and recording are independent consumers of the same feed;
	// neither may block the other. Detection drops late frames itself and
	// recording writes are bounded by the muxer pipe.
	deliver := func(ctx context.Context, frame camera.Frame) {
		pipe.TryOnFrame(ctx, frame)
		recorder.OnFrame(ctx, frame)
	}
	if err := source.Start(ctx, deliver); err != nil {
		return err
	}

	recordCtl := make(chan os.Signal, 2)
	signal.Notify(recordCtl, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(recordCtl)

	for {
		select {
		case <-ctx.Done():
			stats := pipe.Stats()
			logger.Infow("shutting down",
				"processed", stats.Processed, "dropped", stats.Dropped, "skipped", stats.Skipped)
			return nil
		case sig := <-recordCtl:
			switch sig {
			case syscall.SIGUSR1:
				if err := recorder.Start(); err != nil {
					logger.Errorw("could not start recording", "error", err)
				}
			case syscall.SIGUSR2:
				recorder.Stop()
			}
		}
	}
}

// logSink prints published state. Each publish replaces the previous one on
// screen, which is all a terminal consumer needs.
type logSink struct {
	logger golog.Logger
}

func (s *logSink) PublishDetections(result pipeline.Result) {
	s.logger.Infow("detections", "entries", result.Entries, "latency_ms", result.LatencyMs)
}

func (s *logSink) PublishRecording(state pipeline.RecordingState) {
	if state.OutputPath != "" {
		s.logger.Infow("recording saved", "path", state.OutputPath)
		return
	}
	s.logger.Infow("recording state", "is_recording", state.IsRecording)
}

func (s *logSink) NotifyError(err error) {
	s.logger.Errorw("pipeline event", "error", err)
}
