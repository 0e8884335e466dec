// Package config loads the daemon configuration from a JSON file, filling
// in defaults for anything absent.
package config

import (
	"encoding/json"
	"os"

	"github.com/edaniels/golog"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/camsight/camsight/camera"
	"github.com/camsight/camsight/inference"
)

// DefaultConfigPath is used when no path is given on the command line.
const DefaultConfigPath = "camsight.json"

// AttributeMap is a loosely typed parameter bag, decoded into concrete
// structs on demand.
type AttributeMap map[string]interface{}

// TransformTo decodes the attribute map into the given struct pointer.
func (am AttributeMap) TransformTo(out interface{}) error {
	return errors.Wrap(mapstructure.Decode(map[string]interface{}(am), out), "decoding attributes")
}

// RecordingConfig configures the recording controller and its muxer.
type RecordingConfig struct {
	Dir       string `json:"dir"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FrameRate int    `json:"frame_rate"`
	Stabilize bool   `json:"stabilize"`
}

// Config is the whole daemon configuration.
type Config struct {
	Camera    camera.FFmpegConfig    `json:"camera"`
	Model     inference.TFLiteConfig `json:"model"`
	Recording RecordingConfig        `json:"recording"`
	// Backends optionally overrides per-backend pipeline tuning, keyed by
	// backend name.
	Backends map[string]AttributeMap `json:"backends"`
}

// paramsOverride mirrors inference.Params with optional fields.
type paramsOverride struct {
	ConfidenceThreshold *float64 `mapstructure:"confidence_threshold"`
	MaxResults          *int     `mapstructure:"max_results"`
}

// BackendParams applies any configured override for the named backend on
// top of its built-in parameters.
func (c *Config) BackendParams(name string, base inference.Params) (inference.Params, error) {
	attrs, ok := c.Backends[name]
	if !ok {
		return base, nil
	}
	var override paramsOverride
	if err := attrs.TransformTo(&override); err != nil {
		return base, errors.Wrapf(err, "backend %q overrides", name)
	}
	if override.ConfidenceThreshold != nil {
		base.ConfidenceThreshold = *override.ConfidenceThreshold
	}
	if override.MaxResults != nil {
		base.MaxResults = *override.MaxResults
	}
	return base, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Camera: camera.FFmpegConfig{
			Source:    "/dev/video0",
			FrameRate: 15,
		},
		Model: inference.TFLiteConfig{
			ModelPath: "models/detector.tflite",
			LabelPath: "models/labelmap.txt",
		},
		Recording: RecordingConfig{
			Dir:       ".",
			Width:     1280,
			Height:    720,
			FrameRate: 15,
		},
	}
}

// Load reads the config at path. A missing file yields the defaults; a file
// that exists but does not parse is an error.
func Load(path string, logger golog.Logger) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infow("no config file, using defaults", "path", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}
