package inference

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/camsight/camsight/camera"
)

// whiteWithDarkRect builds a white image with one dark rectangle in it.
func whiteWithDarkRect(w, h int, rect image.Rectangle, gray uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (image.Point{x, y}).In(rect) {
				c = color.RGBA{gray, gray, gray, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLuminanceFindsDarkObject(t *testing.T) {
	backend := NewLuminanceBackend(100)
	box := image.Rect(10, 20, 30, 40)
	frame := camera.Frame{Image: whiteWithDarkRect(64, 64, box, 0)}

	dets, err := backend.Infer(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, dets[0].BoundingBox(), test.ShouldResemble, &box)
	test.That(t, dets[0].Label(), test.ShouldEqual, "object")
	// a pitch black component sits at full confidence
	test.That(t, dets[0].Score(), test.ShouldEqual, 1.0)
}

func TestLuminanceConfidenceTracksDarkness(t *testing.T) {
	backend := NewLuminanceBackend(100)
	box := image.Rect(5, 5, 15, 15)
	dark := camera.Frame{Image: whiteWithDarkRect(32, 32, box, 10)}
	dim := camera.Frame{Image: whiteWithDarkRect(32, 32, box, 80)}

	darkDets, err := backend.Infer(context.Background(), dark)
	test.That(t, err, test.ShouldBeNil)
	dimDets, err := backend.Infer(context.Background(), dim)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, darkDets, test.ShouldHaveLength, 1)
	test.That(t, dimDets, test.ShouldHaveLength, 1)
	test.That(t, darkDets[0].Score(), test.ShouldBeGreaterThan, dimDets[0].Score())
}

func TestLuminanceEmptyScene(t *testing.T) {
	backend := NewLuminanceBackend(100)
	frame := camera.Frame{Image: whiteWithDarkRect(32, 32, image.Rectangle{}, 0)}
	dets, err := backend.Infer(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 0)
}

func TestLuminanceParams(t *testing.T) {
	backend := NewLuminanceBackend(100)
	// the fallback runs with a looser threshold and smaller result cap than
	// the specialized model
	test.That(t, backend.Params().ConfidenceThreshold, test.ShouldEqual, 0.3)
	test.That(t, backend.Params().MaxResults, test.ShouldEqual, 5)
	test.That(t, backend.Name(), test.ShouldEqual, "luminance")
	test.That(t, backend.Close(), test.ShouldBeNil)
}
