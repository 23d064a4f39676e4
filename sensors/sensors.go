// Package sensors turns lidar and odometry sources into scans for the SLAM session.
package sensors

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	replayTimestampErrorMessage = "replay sensor timestamp parse RFC3339Nano error"

	// DefaultAngleOffsetDeg turns the scanner frame into the robot frame.
	DefaultAngleOffsetDeg = 180.0
	// DefaultMinRange and DefaultMaxRange bound usable beam ranges in meters, both exclusive.
	DefaultMinRange = 0.1
	DefaultMaxRange = 6.0
)

// ErrEndOfDataset is returned once a replayed source has no more readings. It is not a failure.
var ErrEndOfDataset = errors.New("reached end of dataset")

// RangeGate drops beams outside (Min, Max) and rotates the rest by AngleOffsetDeg.
type RangeGate struct {
	Min            float64
	Max            float64
	AngleOffsetDeg float64
}

// DefaultRangeGate returns the gate used when none is configured.
func DefaultRangeGate() RangeGate {
	return RangeGate{Min: DefaultMinRange, Max: DefaultMaxRange, AngleOffsetDeg: DefaultAngleOffsetDeg}
}

// Point returns the sensor frame point of a beam at angleDeg with the given range, or false
// when the range is gated out.
func (g RangeGate) Point(id int, angleDeg, rng float64) (geometry.Point, bool) {
	if rng <= g.Min || rng >= g.Max {
		return geometry.Point{}, false
	}
	a := geometry.DegToRad(angleDeg + g.AngleOffsetDeg)
	return geometry.NewPoint(id, rng*math.Cos(a), rng*math.Sin(a)), true
}

// ValidateGetLidarData checks every sensorValidationInterval if the provided lidar
// returned a valid timed reading until either success or sensorValidationMaxTimeout has elapsed.
// returns an error if no valid lidar readings were returned.
func ValidateGetLidarData(
	ctx context.Context,
	lidar TimedLidar,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::sensors::ValidateGetLidarData")
	defer span.End()

	return validateGetData(ctx, "ValidateGetLidarData", func(ctx context.Context) error {
		_, err := lidar.TimedLidarReading(ctx)
		return err
	}, sensorValidationMaxTimeout, sensorValidationInterval, logger)
}

// ValidateGetOdometerData is ValidateGetLidarData for an odometer. A replayed odometer that has
// reached the end of its dataset passes.
func ValidateGetOdometerData(
	ctx context.Context,
	odometer TimedOdometer,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::sensors::ValidateGetOdometerData")
	defer span.End()

	return validateGetData(ctx, "ValidateGetOdometerData", func(ctx context.Context) error {
		_, err := odometer.TimedOdometerReading(ctx)
		if errors.Is(err, ErrEndOfDataset) {
			return nil
		}
		return err
	}, sensorValidationMaxTimeout, sensorValidationInterval, logger)
}

func validateGetData(
	ctx context.Context,
	name string,
	read func(ctx context.Context) error,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	startTime := time.Now().UTC()

	for {
		err := read(ctx)
		if err == nil {
			return nil
		}

		logger.Debugw(name+" hit error: ", "error", err)
		if time.Since(startTime) >= sensorValidationMaxTimeout {
			return errors.Wrap(err, name+" timeout")
		}
		if !goutils.SelectContextOrWait(ctx, sensorValidationInterval) {
			return ctx.Err()
		}
	}
}
