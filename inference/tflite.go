package inference

import (
	"bufio"
	"context"
	"image"
	"os"
	"runtime"
	"strconv"

	"github.com/edaniels/golog"
	tflite "github.com/mattn/go-tflite"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/vision/objectdetection"
)

// TFLiteConfig specifies the fields necessary for creating a TFLite backend.
type TFLiteConfig struct {
	ModelPath  string `json:"model_path"`
	LabelPath  string `json:"label_path"`
	NumThreads int    `json:"num_threads"`
}

// tfliteBackend wraps one TFLite interpreter for an SSD style detection
// model: locations, categories, scores and an optional count tensor.
type tfliteBackend struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter

	inputWidth  int
	inputHeight int
	labels      []string
	params      Params
	logger      golog.Logger
}

// NewTFLiteBackend loads the model at cfg.ModelPath and allocates an
// interpreter for it. A missing or corrupt model artifact is a
// *ModelLoadError; nothing here fails at inference time.
func NewTFLiteBackend(cfg TFLiteConfig, logger golog.Logger) (Backend, error) {
	const name = "tflite"
	if cfg.ModelPath == "" {
		return nil, &ModelLoadError{name, errors.New("no model path configured")}
	}
	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, &ModelLoadError{name, errors.Errorf("failed to load model from %s", cfg.ModelPath)}
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, &ModelLoadError{name, errors.New("failed to create interpreter options")}
	}
	numThreads := cfg.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options.SetNumThread(numThreads)
	options.SetErrorReporter(func(msg string, userData interface{}) {
		logger.Warnw("tflite runtime", "msg", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, &ModelLoadError{name, errors.New("failed to create interpreter")}
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, &ModelLoadError{name, errors.New("failed to allocate tensors")}
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, &ModelLoadError{name, errors.New("model input is not an image tensor")}
	}

	labels, err := loadLabels(cfg.LabelPath)
	if err != nil {
		logger.Warnw("no label file, detections will carry numeric labels", "path", cfg.LabelPath, "error", err)
		labels = nil
	}

	return &tfliteBackend{
		model:       model,
		options:     options,
		interpreter: interpreter,
		inputHeight: input.Dim(1),
		inputWidth:  input.Dim(2),
		labels:      labels,
		// the specialized model is trusted further than the fallback, so it
		// publishes more entries at a stricter threshold
		params: Params{ConfidenceThreshold: 0.5, MaxResults: 10},
		logger: logger,
	}, nil
}

func (tb *tfliteBackend) Name() string { return "tflite" }

func (tb *tfliteBackend) Params() Params { return tb.params }

// Infer resizes the frame to the model input, invokes the interpreter, and
// unpacks the output tensors into detections scaled to the original image.
func (tb *tfliteBackend) Infer(ctx context.Context, frame camera.Frame) ([]objectdetection.Detection, error) {
	img := frame.Upright()
	origW, origH := img.Bounds().Dx(), img.Bounds().Dy()
	resized := resize.Resize(uint(tb.inputWidth), uint(tb.inputHeight), img, resize.Bilinear)

	input := tb.interpreter.GetInputTensor(0)
	if status := input.CopyFromBuffer(imageToUInt8Buffer(resized)); status != tflite.OK {
		return nil, errors.New("copying image to input tensor failed")
	}
	if status := tb.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("interpreter invoke failed")
	}

	return tb.unpackTensors(origW, origH)
}

// unpackTensors shapes the interpreter output into detections. The expected
// layout is locations [1,N,4], categories [1,N], scores [1,N]; anything else
// is reported as unrecognized output rather than crashing the pipeline.
func (tb *tfliteBackend) unpackTensors(origW, origH int) ([]objectdetection.Detection, error) {
	numOut := tb.interpreter.GetOutputTensorCount()
	raw := make([][]float32, 0, numOut)
	totalValues := 0
	for i := 0; i < numOut; i++ {
		t := tb.interpreter.GetOutputTensor(i)
		if t.Type() != tflite.Float32 {
			continue
		}
		vals := t.Float32s()
		raw = append(raw, vals)
		totalValues += len(vals)
	}
	return shapeDetections(raw, totalValues, origW, origH, tb.labels, tb.Name())
}

// shapeDetections turns raw output tensors into detections scaled to the
// original image. Locations is the longest tensor. Models disagree on whether
// classes or scores come next, so the scores tensor is the one whose values
// all lie in [0,1]; when both qualify the standard postprocess ordering of
// classes before scores is assumed.
func shapeDetections(raw [][]float32, totalValues, origW, origH int, labels []string, backend string) ([]objectdetection.Detection, error) {
	if len(raw) < 3 {
		return nil, &UnrecognizedOutputError{backend, totalValues}
	}
	li := 0
	for i := range raw {
		if len(raw[i]) > len(raw[li]) {
			li = i
		}
	}
	locations := raw[li]
	rest := make([][]float32, 0, len(raw)-1)
	for i := range raw {
		if i != li {
			rest = append(rest, raw[i])
		}
	}
	categories, scores := rest[0], rest[1]
	if !allInUnitRange(scores) && allInUnitRange(categories) {
		categories, scores = scores, categories
	}
	if !allInUnitRange(scores) {
		return nil, &UnrecognizedOutputError{backend, totalValues}
	}
	if len(locations) != 4*len(scores) || len(categories) < len(scores) {
		return nil, &UnrecognizedOutputError{backend, totalValues}
	}

	detections := make([]objectdetection.Detection, 0, len(scores))
	for i := 0; i < len(scores); i++ {
		// tensor box order is ymin, xmin, ymax, xmax in [0,1]
		ymin := clamp(float64(locations[4*i]), 0, 1) * float64(origH)
		xmin := clamp(float64(locations[4*i+1]), 0, 1) * float64(origW)
		ymax := clamp(float64(locations[4*i+2]), 0, 1) * float64(origH)
		xmax := clamp(float64(locations[4*i+3]), 0, 1) * float64(origW)
		rect := image.Rect(int(xmin), int(ymin), int(xmax), int(ymax))

		labelNum := int(categories[i])
		var label string
		if labels != nil && labelNum >= 0 && labelNum < len(labels) {
			label = labels[labelNum]
		} else {
			label = strconv.Itoa(labelNum)
		}
		detections = append(detections, objectdetection.NewDetection(rect, float64(scores[i]), label))
	}
	return detections, nil
}

func allInUnitRange(vals []float32) bool {
	for _, v := range vals {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// Close deletes the interpreter and the loaded model.
func (tb *tfliteBackend) Close() error {
	tb.interpreter.Delete()
	tb.options.Delete()
	tb.model.Delete()
	return nil
}

// imageToUInt8Buffer reads an image into a byte slice, left to right like a
// book; R, then G, then B.
func imageToUInt8Buffer(img image.Image) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	output := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue
			}
			base := (y*w + x) * 3
			output[base] = uint8(float64(r) * 255 / float64(a))
			output[base+1] = uint8(float64(g) * 255 / float64(a))
			output[base+2] = uint8(float64(b) * 255 / float64(a))
		}
	}
	return output
}

// loadLabels reads a labelmap.txt file and returns a slice of the labels.
func loadLabels(filename string) ([]string, error) {
	if filename == "" {
		return nil, errors.New("no label path configured")
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	return labels, scanner.Err()
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
