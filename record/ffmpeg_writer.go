package record

import (
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	viamutils "go.viam.com/utils"

	"github.com/camsight/camsight/camera"
)

// FFmpegWriterConfig configures the H.264 muxer for one session.
type FFmpegWriterConfig struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
	// Stabilize enables the deshake filter when the local ffmpeg supports
	// it. Stabilization is best effort; it is never an error to run without.
	Stabilize bool `json:"stabilize"`
}

// ffmpegWriter feeds raw RGBA frames to an ffmpeg process over a pipe and
// muxes them into an MP4. Finalize closes the pipe and waits for the process
// to confirm the container is written.
type ffmpegWriter struct {
	path   string
	cfg    FFmpegWriterConfig
	logger golog.Logger

	pw      *io.PipeWriter
	done    chan error
	workers sync.WaitGroup

	finalizeOnce sync.Once
	finalizeErr  error
}

// NewFFmpegWriter opens an ffmpeg process writing to path. The returned
// writer satisfies the controller's WriterFactory when bound to a config.
func NewFFmpegWriter(path string, cfg FFmpegWriterConfig, logger golog.Logger) (Writer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg binary not found")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("invalid recording dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}

	pr, pw := io.Pipe()
	w := &ffmpegWriter{
		path:   path,
		cfg:    cfg,
		logger: logger,
		pw:     pw,
		done:   make(chan error, 1),
	}

	outArgs := map[string]interface{}{
		"c:v":      "libx264",
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
	}
	if cfg.Stabilize {
		outArgs["vf"] = "deshake"
	}

	w.workers.Add(1)
	viamutils.ManagedGo(func() {
		stream := ffmpeg.Input("pipe:", map[string]interface{}{
			"format":    "rawvideo",
			"pix_fmt":   "rgba",
			"s":         fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"framerate": cfg.FrameRate,
		})
		err := stream.Output(path, outArgs).OverWriteOutput().WithInput(pr).Run()
		if err != nil {
			// unblock any writer stuck on the pipe
			pr.CloseWithError(err)
		}
		w.done <- err
	}, w.workers.Done)

	return w, nil
}

// WriteFrame converts the frame to upright RGBA at the session dimensions
// and streams it to the muxer. An error means the ffmpeg process has died
// and the session cannot continue.
func (w *ffmpegWriter) WriteFrame(frame camera.Frame) error {
	img := frame.Upright()
	if b := img.Bounds(); b.Dx() != w.cfg.Width || b.Dy() != w.cfg.Height {
		img = imaging.Resize(img, w.cfg.Width, w.cfg.Height, imaging.Linear)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = imaging.Clone(img)
	}
	if _, err := w.pw.Write(nrgba.Pix); err != nil {
		return errors.Wrap(err, "streaming frame to muxer")
	}
	return nil
}

// Finalize signals end of stream and waits for the muxer to exit. Safe to
// call more than once; later calls return the first outcome.
func (w *ffmpegWriter) Finalize() (string, error) {
	w.finalizeOnce.Do(func() {
		if err := w.pw.Close(); err != nil {
			w.finalizeErr = err
		}
		if err := <-w.done; err != nil && w.finalizeErr == nil {
			w.finalizeErr = errors.Wrap(err, "ffmpeg muxer failed")
		}
		w.workers.Wait()
	})
	if w.finalizeErr != nil {
		return "", w.finalizeErr
	}
	return w.path, nil
}
