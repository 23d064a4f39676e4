package config

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils"

	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/sensors"
)

const testCfgPath = "services.slam.attributes.fake"

func TestValidate(t *testing.T) {
	t.Run("Simplest valid config", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "lidar"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		deps, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"lidar"})
	})

	t.Run("Config with a dataset needs no camera", func(t *testing.T) {
		cfg := &Config{Dataset: "run.lsc", ConfigParams: map[string]string{"mode": "2d"}}
		deps, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeEmpty)
	})

	t.Run("Config with a movement sensor", func(t *testing.T) {
		cfg := &Config{
			Camera:         map[string]string{"name": "lidar", "data_frequency_hz": "5"},
			MovementSensor: map[string]string{"name": "odometer", "data_frequency_hz": "20"},
			ConfigParams:   map[string]string{"mode": "2d"},
		}
		deps, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"lidar", "odometer"})
	})

	t.Run("Config without required fields", func(t *testing.T) {
		cfg := &Config{Camera: map[string]string{"name": "lidar"}}
		_, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError, utils.NewConfigValidationFieldRequiredError(testCfgPath, "config_params[mode]"))

		cfg = &Config{ConfigParams: map[string]string{"mode": "2d"}}
		_, err = cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError, utils.NewConfigValidationFieldRequiredError(testCfgPath, "camera[name]"))
	})

	t.Run("Config with invalid data frequency", func(t *testing.T) {
		cfg := &Config{
			Camera:       map[string]string{"name": "lidar", "data_frequency_hz": "-1"},
			ConfigParams: map[string]string{"mode": "2d"},
		}
		_, err := cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError, newError("cannot specify data_frequency_hz less than zero"))

		cfg.Camera["data_frequency_hz"] = "fast"
		_, err = cfg.Validate(testCfgPath)
		test.That(t, err, test.ShouldBeError, newError("data_frequency_hz must only contain digits"))
	})
}

func TestGetOptionalParameters(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("Pass default parameters", func(t *testing.T) {
		cfg := &Config{Camera: map[string]string{"name": "lidar"}}
		params, err := GetOptionalParameters(cfg, 5, 20, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.LidarName, test.ShouldEqual, "lidar")
		test.That(t, params.LidarDataFrequencyHz, test.ShouldEqual, 5)
		test.That(t, params.MovementSensorName, test.ShouldBeEmpty)
		test.That(t, params.EnableMapping, test.ShouldBeTrue)
	})

	t.Run("Return overrides", func(t *testing.T) {
		enableMapping := false
		cfg := &Config{
			Camera:         map[string]string{"name": "lidar", "data_frequency_hz": "0"},
			MovementSensor: map[string]string{"name": "odometer"},
			MapOutputDir:   "/tmp/maps",
			EnableMapping:  &enableMapping,
		}
		params, err := GetOptionalParameters(cfg, 5, 20, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.LidarDataFrequencyHz, test.ShouldEqual, 0)
		test.That(t, params.MovementSensorName, test.ShouldEqual, "odometer")
		test.That(t, params.MovementSensorDataFrequencyHz, test.ShouldEqual, 20)
		test.That(t, params.MapOutputDir, test.ShouldEqual, "/tmp/maps")
		test.That(t, params.EnableMapping, test.ShouldBeFalse)
	})
}

func TestParseAlgoConfig(t *testing.T) {
	t.Run("defaults to preset I", func(t *testing.T) {
		cfg, err := ParseAlgoConfig(map[string]string{"mode": "2d"}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg, test.ShouldResemble, defaultAlgoCfg)
		test.That(t, cfg.RangeGate(), test.ShouldResemble, sensors.DefaultRangeGate())
	})

	t.Run("applies a preset then overrides", func(t *testing.T) {
		cfg, err := ParseAlgoConfig(map[string]string{
			"mode":            "2d",
			"preset":          "A",
			"cost":            "point_to_line",
			"keyframe_skip":   "4",
			"score_threshold": "0.5",
			"max_range":       "8",
			"resample":        "true",
			"motion_model":    "velocity",
			"log_level":       "debug",
		}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Preset, test.ShouldEqual, "A")
		test.That(t, cfg.MapStrategy, test.ShouldEqual, MapAll)
		test.That(t, cfg.RefScan, test.ShouldEqual, RefPrevious)
		test.That(t, cfg.Associator, test.ShouldEqual, AssocLinear)
		test.That(t, cfg.Cost, test.ShouldEqual, CostPointToLine)
		test.That(t, cfg.Optimizer, test.ShouldEqual, OptGradient)
		test.That(t, cfg.LoopDetector, test.ShouldEqual, LoopNone)
		test.That(t, cfg.Resample, test.ShouldBeTrue)
		test.That(t, cfg.Classify, test.ShouldBeFalse)
		test.That(t, cfg.KeyframeSkip, test.ShouldEqual, 4)
		test.That(t, cfg.ScoreThreshold, test.ShouldEqual, 0.5)
		test.That(t, cfg.MaxRange, test.ShouldEqual, 8.0)
		test.That(t, cfg.MotionModel, test.ShouldEqual, covariance.MotionVelocity)
		test.That(t, cfg.LogLevel, test.ShouldEqual, zapcore.DebugLevel)
	})

	t.Run("every preset is known", func(t *testing.T) {
		for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I"} {
			cfg, err := Preset(name)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, cfg.Preset, test.ShouldEqual, name)
		}
		h, _ := Preset("H")
		test.That(t, h.LoopDetector, test.ShouldEqual, LoopNone)
		test.That(t, h.DegeneracyCheck, test.ShouldBeTrue)
	})

	t.Run("unknown params are logged", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		_, err := ParseAlgoConfig(map[string]string{"mode": "2d", "optimize_on_start": "true"}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, logs.FilterMessageSnippet("unused config param").Len(), test.ShouldEqual, 1)
	})

	t.Run("errors", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		_, err := ParseAlgoConfig(map[string]string{"preset": "Z"}, logger)
		test.That(t, err, test.ShouldBeError, newError(`unknown preset "Z"`))

		_, err = ParseAlgoConfig(map[string]string{"mode": "3d"}, logger)
		test.That(t, err, test.ShouldBeError, newError(`only mode 2d is supported, got "3d"`))

		_, err = ParseAlgoConfig(map[string]string{"map_strategy": "octree"}, logger)
		test.That(t, err, test.ShouldBeError, newError(`invalid value "octree" for map_strategy`))

		_, err = ParseAlgoConfig(map[string]string{"motion_model": "ackermann"}, logger)
		test.That(t, err, test.ShouldBeError, newError(`invalid value "ackermann" for motion_model`))

		_, err = ParseAlgoConfig(map[string]string{"keyframe_skip": "ten"}, logger)
		test.That(t, err, test.ShouldNotBeNil)

		_, err = ParseAlgoConfig(map[string]string{"keyframe_skip": "0"}, logger)
		test.That(t, err, test.ShouldBeError, newError("keyframe_skip must be at least 1"))

		_, err = ParseAlgoConfig(map[string]string{"min_range": "7"}, logger)
		test.That(t, err, test.ShouldBeError, newError("min_range must be less than max_range"))
	})
}
