// Package config implements functions to assist with attribute evaluation in the SLAM service.
package config

import (
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// newError returns an error specific to a failure in the SLAM config.
func newError(configError string) error {
	return errors.Errorf("SLAM Service configuration error: %s", configError)
}

// Config describes how to configure the SLAM service.
type Config struct {
	Camera         map[string]string `json:"camera"`
	MovementSensor map[string]string `json:"movement_sensor"`
	Dataset        string            `json:"dataset"`
	MapOutputDir   string            `json:"map_output_dir"`
	EnableMapping  *bool             `json:"enable_mapping"`
	ConfigParams   map[string]string `json:"config_params"`
}

// OptionalConfigParams holds the optional config parameters of SLAM.
type OptionalConfigParams struct {
	LidarName                     string
	LidarDataFrequencyHz          int
	MovementSensorName            string
	MovementSensorDataFrequencyHz int
	MapOutputDir                  string
	EnableMapping                 bool
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	if config.ConfigParams["mode"] == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "config_params[mode]")
	}

	if config.Dataset == "" && config.Camera["name"] == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "camera[name]")
	}

	for _, sensor := range []map[string]string{config.Camera, config.MovementSensor} {
		if err := validateDataFrequency(sensor); err != nil {
			return nil, err
		}
	}

	deps := []string{}
	if config.Camera["name"] != "" {
		deps = append(deps, config.Camera["name"])
	}
	if config.MovementSensor["name"] != "" {
		deps = append(deps, config.MovementSensor["name"])
	}
	return deps, nil
}

func validateDataFrequency(sensor map[string]string) error {
	hz, ok := sensor["data_frequency_hz"]
	if !ok || hz == "" {
		return nil
	}
	val, err := strconv.Atoi(hz)
	if err != nil {
		return newError("data_frequency_hz must only contain digits")
	}
	if val < 0 {
		return newError("cannot specify data_frequency_hz less than zero")
	}
	return nil
}

// GetOptionalParameters sets any unset optional config parameters to the values passed to this function,
// and returns them.
func GetOptionalParameters(config *Config, defaultLidarDataFrequencyHz,
	defaultMovementSensorDataFrequencyHz int, logger logging.Logger,
) (OptionalConfigParams, error) {
	var optionalConfigParams OptionalConfigParams

	optionalConfigParams.LidarName = config.Camera["name"]
	if config.Camera["data_frequency_hz"] == "" {
		logger.Debugf("config did not provide camera[data_frequency_hz], setting to default value of %d",
			defaultLidarDataFrequencyHz)
	}
	lidarHz, err := dataFrequency(config.Camera, defaultLidarDataFrequencyHz)
	if err != nil {
		return OptionalConfigParams{}, err
	}
	optionalConfigParams.LidarDataFrequencyHz = lidarHz

	if config.MovementSensor["name"] == "" {
		logger.Debug("no movement sensor provided, mapping from lidar only")
	} else {
		optionalConfigParams.MovementSensorName = config.MovementSensor["name"]
		hz, err := dataFrequency(config.MovementSensor, defaultMovementSensorDataFrequencyHz)
		if err != nil {
			return OptionalConfigParams{}, err
		}
		optionalConfigParams.MovementSensorDataFrequencyHz = hz
	}

	optionalConfigParams.MapOutputDir = config.MapOutputDir
	if config.EnableMapping == nil {
		logger.Debug("no enable_mapping given, setting to default value of true")
		optionalConfigParams.EnableMapping = true
	} else {
		optionalConfigParams.EnableMapping = *config.EnableMapping
	}
	if !optionalConfigParams.EnableMapping {
		logger.Info("enable_mapping set to false, the map will not be updated")
	}

	return optionalConfigParams, nil
}

func dataFrequency(sensor map[string]string, defaultHz int) (int, error) {
	hz, ok := sensor["data_frequency_hz"]
	if !ok || hz == "" {
		return defaultHz, nil
	}
	val, err := strconv.Atoi(hz)
	if err != nil {
		return 0, newError("data_frequency_hz must only contain digits")
	}
	return val, nil
}
