// Package objectdetection defines the detection data model shared by the
// inference backends and the detection pipeline, along with the
// post-processing steps applied to raw detections before publishing.
package objectdetection

import (
	"fmt"
	"image"
	"math"
)

// Detection returns a bounding box around the object and a confidence score of the detection.
type Detection interface {
	// BoundingBox returns a rectangle around the detected object.
	BoundingBox() *image.Rectangle

	// Score returns a confidence score of the detection in [0, 1].
	Score() float64

	// Label returns the class label of the object in the detection.
	Label() string
}

// NewDetection creates a detection from a bounding box, a score, and a label.
func NewDetection(boundingBox image.Rectangle, score float64, label string) Detection {
	return &detection2D{boundingBox, score, label}
}

// detection2D is a simple struct for storing 2D detections.
type detection2D struct {
	boundingBox image.Rectangle
	score       float64
	label       string
}

// BoundingBox returns a bounding box around the detected object.
func (d *detection2D) BoundingBox() *image.Rectangle {
	return &d.boundingBox
}

// Score returns a confidence score of the detection between 0.0 and 1.0.
func (d *detection2D) Score() float64 {
	return d.score
}

// Label returns the class label of the object in the detection.
func (d *detection2D) Label() string {
	return d.label
}

// String turns the detection into a string of the form "label (score%)",
// which is the entry format published to result consumers.
func (d *detection2D) String() string {
	return FormatEntry(d)
}

// FormatEntry renders one detection as "<label> (<confidence>%)", with the
// confidence rounded to the nearest whole percent.
func FormatEntry(d Detection) string {
	return fmt.Sprintf("%s (%d%%)", d.Label(), int(math.Round(d.Score()*100)))
}

// FormatEntries renders a slice of detections in order.
func FormatEntries(ds []Detection) []string {
	entries := make([]string, 0, len(ds))
	for _, d := range ds {
		entries = append(entries, FormatEntry(d))
	}
	return entries
}
