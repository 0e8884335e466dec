package inference

import (
	"context"
	"image"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/vision/objectdetection"
)

// luminanceBackend is the generic baseline detector used when no model
// artifact can be loaded. It converts the frame to gray and finds connected
// components darker than a luminance threshold, returning a bounding box per
// component. It has no artifact to load, so construction never fails; its
// confidence estimates are coarse, so the pipeline runs it with a looser
// threshold and a smaller result cap than the specialized model.
type luminanceBackend struct {
	// threshold is between 0.0 and 256.0, with 256.0 being white and 0.0
	// being black
	threshold float64
	params    Params
}

// NewLuminanceBackend creates a backend that looks for dark objects in the
// image, with bounding boxes around the connected components it finds.
func NewLuminanceBackend(threshold float64) Backend {
	return &luminanceBackend{
		threshold: threshold,
		params:    Params{ConfidenceThreshold: 0.3, MaxResults: 5},
	}
}

func (lb *luminanceBackend) Name() string { return "luminance" }

func (lb *luminanceBackend) Params() Params { return lb.params }

// Infer takes in an image frame and returns bounding boxes around the dark
// connected components found in it. The confidence of each component is how
// far its mean luminance sits below the threshold.
func (lb *luminanceBackend) Infer(ctx context.Context, frame camera.Frame) ([]objectdetection.Detection, error) {
	img := frame.Upright()
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	lum := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Rec. 601 luma on 8 bit channels
			lum[y*width+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	seen := make([]bool, width*height)
	queue := []image.Point{}
	detections := []objectdetection.Detection{}
	for i := 0; i < width; i++ {
		for j := 0; j < height; j++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			indx := j*width + i
			if seen[indx] {
				continue
			}
			if lum[indx] >= lb.threshold {
				seen[indx] = true
				continue
			}
			queue = append(queue, image.Point{i, j})
			x0, y0, x1, y1 := i, j, i, j // the bounding box of the component
			lumSum, count := 0.0, 0.0
			for len(queue) != 0 {
				pt := queue[0]
				queue = queue[1:]
				seen[pt.Y*width+pt.X] = true
				lumSum += lum[pt.Y*width+pt.X]
				count++
				if pt.X < x0 {
					x0 = pt.X
				}
				if pt.X > x1 {
					x1 = pt.X
				}
				if pt.Y < y0 {
					y0 = pt.Y
				}
				if pt.Y > y1 {
					y1 = pt.Y
				}
				queue = append(queue, lb.neighbors(pt, width, height, lum, seen)...)
			}
			score := (lb.threshold - lumSum/count) / lb.threshold
			detections = append(detections,
				objectdetection.NewDetection(image.Rect(x0, y0, x1+1, y1+1), score, "object"))
		}
	}
	return detections, nil
}

func (lb *luminanceBackend) neighbors(pt image.Point, width, height int, lum []float64, seen []bool) []image.Point {
	neighbors := make([]image.Point, 0, 4)
	fourPoints := []image.Point{{pt.X, pt.Y - 1}, {pt.X, pt.Y + 1}, {pt.X - 1, pt.Y}, {pt.X + 1, pt.Y}}
	for _, p := range fourPoints {
		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		indx := p.Y*width + p.X
		if seen[indx] {
			continue
		}
		seen[indx] = true
		if lum[indx] < lb.threshold {
			neighbors = append(neighbors, p)
		}
	}
	return neighbors
}

func (lb *luminanceBackend) Close() error { return nil }
