package camera

import (
	"context"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	viamutils "go.viam.com/utils"
)

// FFmpegConfig configures an ffmpeg backed capture source.
type FFmpegConfig struct {
	// Source is the device or URL handed to ffmpeg, e.g. /dev/video0 or an
	// rtsp:// address.
	Source string `json:"source"`
	// FrameRate is the delivery cadence in frames per second.
	FrameRate int `json:"frame_rate"`
	// Orientation is the static orientation hint attached to every frame.
	Orientation Orientation `json:"orientation"`
	// InputKWArgs and OutputKWArgs are passed through to ffmpeg untouched.
	InputKWArgs  map[string]interface{} `json:"input_kw_args"`
	OutputKWArgs map[string]interface{} `json:"output_kw_args"`
}

// FFmpegSource captures frames by running ffmpeg against a device or URL and
// decoding the MJPEG stream it writes to a pipe. The most recent decoded
// image is kept in shared memory; a ticker delivers it to the handler at the
// configured rate. Decoding never blocks on a slow handler, so a late frame
// is overwritten rather than queued.
type FFmpegSource struct {
	cfg    FFmpegConfig
	clock  clock.Clock
	logger golog.Logger

	cancelFunc              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
	started                 bool
	mu                      sync.Mutex
}

// NewFFmpegSource returns a source reading from cfg.Source. It fails if the
// ffmpeg binary is not in the path.
func NewFFmpegSource(cfg FFmpegConfig, clk clock.Clock, logger golog.Logger) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg binary not found")
	}
	if cfg.Source == "" {
		return nil, errors.New("ffmpeg source must have a device or URL to read from")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &FFmpegSource{cfg: cfg, clock: clk, logger: logger}, nil
}

// Start launches the ffmpeg process and begins delivering frames.
func (fs *FFmpegSource) Start(ctx context.Context, deliver Handler) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.started {
		return errors.New("ffmpeg source already started")
	}
	fs.started = true

	cancelableCtx, cancel := context.WithCancel(ctx)
	fs.cancelFunc = cancel

	outArgs := make(map[string]interface{}, len(fs.cfg.OutputKWArgs))
	for key, value := range fs.cfg.OutputKWArgs {
		outArgs[key] = value
	}
	outArgs["format"] = "image2pipe"
	outArgs["vcodec"] = "mjpeg"
	outArgs["r"] = fs.cfg.FrameRate

	// run ffmpeg and push the decoded stream into the pipe
	in, out := io.Pipe()
	var ffmpegErr atomic.Value
	fs.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		stream := ffmpeg.Input(fs.cfg.Source, fs.cfg.InputKWArgs)
		stream = stream.Output("pipe:", outArgs)
		stream.Context = cancelableCtx
		err := stream.WithOutput(out).Run()
		if err != nil {
			ffmpegErr.Store(err)
			if cancelableCtx.Err() == nil {
				fs.logger.Errorw("ffmpeg capture process exited", "error", err)
			}
		}
		// nothing more will arrive on the pipe; closing the write end
		// unblocks a decode stuck mid-read so the worker can exit
		out.CloseWithError(err)
	}, func() {
		cancel()
		fs.activeBackgroundWorkers.Done()
	})

	// consume images from the pipe and keep only the latest
	var latestFrame atomic.Value
	fs.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		for {
			if cancelableCtx.Err() != nil {
				return
			}
			if ffmpegErr.Load() != nil {
				return
			}
			img, err := jpeg.Decode(in)
			if err != nil {
				// a closed pipe means the process is gone; anything else is
				// a torn frame worth skipping
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
					return
				}
				continue
			}
			latestFrame.Store(img)
		}
	}, fs.activeBackgroundWorkers.Done)

	// tick at the target rate and hand the latest image to the handler.
	// Delivery is synchronous on this goroutine, so the handler sees frames
	// serially; ticks that fire while the handler runs coalesce.
	fs.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		ticker := fs.clock.Ticker(time.Second / time.Duration(fs.cfg.FrameRate))
		defer ticker.Stop()
		var lastDelivered interface{}
		for {
			select {
			case <-cancelableCtx.Done():
				return
			case <-ticker.C:
			}
			img := latestFrame.Load()
			if img == nil || img == lastDelivered {
				continue
			}
			lastDelivered = img
			deliver(cancelableCtx, Frame{
				Image:       img.(image.Image),
				CapturedAt:  fs.clock.Now(),
				Orientation: fs.cfg.Orientation,
			})
		}
	}, fs.activeBackgroundWorkers.Done)

	return nil
}

// Close stops the ffmpeg process and waits for the capture workers to exit.
func (fs *FFmpegSource) Close(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cancelFunc != nil {
		fs.cancelFunc()
	}
	fs.activeBackgroundWorkers.Wait()
	return nil
}
