package camera

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestUpright(t *testing.T) {
	// 2x1 image: red then green, left to right
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(1, 0, color.RGBA{0, 255, 0, 255})

	up := Frame{Image: img, Orientation: OrientationUp}.Upright()
	test.That(t, up, test.ShouldEqual, img)

	rotated := Frame{Image: img, Orientation: OrientationRight}.Upright()
	b := rotated.Bounds()
	test.That(t, b.Dx(), test.ShouldEqual, 1)
	test.That(t, b.Dy(), test.ShouldEqual, 2)
	// a 90 degree clockwise correction puts the left edge on top
	r, _, _, _ := rotated.At(0, 0).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 255)

	flipped := Frame{Image: img, Orientation: OrientationDown}.Upright()
	r, _, _, _ = flipped.At(1, 0).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 255)
}

func TestScriptedSourceDeliversInOrder(t *testing.T) {
	clk := clock.NewMock()
	frames := []Frame{
		{Image: image.NewRGBA(image.Rect(0, 0, 1, 1))},
		{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))},
		{Image: image.NewRGBA(image.Rect(0, 0, 3, 3))},
	}
	src := NewScriptedSource(frames, clk)

	var got []Frame
	err := src.Start(context.Background(), func(ctx context.Context, frame Frame) {
		got = append(got, frame)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 3)
	for i, frame := range got {
		test.That(t, frame.Image.Bounds().Dx(), test.ShouldEqual, i+1)
		test.That(t, frame.CapturedAt, test.ShouldResemble, clk.Now())
	}
}

func TestFFmpegSourceCloseAfterProcessExit(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// a capture binary that dies immediately, like a camera being unplugged
	binDir := t.TempDir()
	stub := filepath.Join(binDir, "ffmpeg")
	test.That(t, os.WriteFile(stub, []byte("#!/bin/sh\nexit 1\n"), 0o755), test.ShouldBeNil)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	src, err := NewFFmpegSource(FFmpegConfig{Source: "/dev/null", FrameRate: 30}, clock.New(), logger)
	test.That(t, err, test.ShouldBeNil)
	err = src.Start(context.Background(), func(ctx context.Context, frame Frame) {})
	test.That(t, err, test.ShouldBeNil)

	// Close must reap all workers, including the decoder blocked on the pipe
	closed := make(chan error, 1)
	go func() { closed <- src.Close(context.Background()) }()
	select {
	case err := <-closed:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the capture process exited")
	}
}

func TestScriptedSourceCloseStopsPlayback(t *testing.T) {
	clk := clock.NewMock()
	frames := make([]Frame, 10)
	for i := range frames {
		frames[i] = Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}
	}
	src := NewScriptedSource(frames, clk)

	delivered := 0
	err := src.Start(context.Background(), func(ctx context.Context, frame Frame) {
		delivered++
		if delivered == 2 {
			_ = src.Close(ctx)
		}
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, delivered, test.ShouldEqual, 2)
}
