package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/rdk/utils/contextutils"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const kilometersToMeters = 1000.0

// TimedOdometer describes an odometry source that reports the time the reading is from & whether
// or not it is from a replay sensor.
type TimedOdometer interface {
	Name() string
	DataFrequencyHz() int
	TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error)
}

// TimedOdometerReadingResponse is an odometry pose in meters and degrees relative to the first
// reading.
type TimedOdometerReadingResponse struct {
	Pose           geometry.Pose
	ReadingTime    time.Time
	IsReplaySensor bool
}

// PositionOrientationSource is the part of an rdk movement sensor the odometer reads from.
type PositionOrientationSource interface {
	Position(ctx context.Context, extra map[string]interface{}) (*geo.Point, float64, error)
	Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error)
}

// Odometer turns geographic positions and orientations into planar poses. The first fix is
// the origin; x points east and y north.
type Odometer struct {
	name            string
	dataFrequencyHz int
	Odometer        PositionOrientationSource

	mu     sync.Mutex
	origin *geo.Point
}

// Name returns the name of the odometer.
func (odom *Odometer) Name() string {
	return odom.name
}

// DataFrequencyHz returns the data rate in hz of the odometer.
func (odom *Odometer) DataFrequencyHz() int {
	return odom.dataFrequencyHz
}

// TimedOdometerReading returns the planar pose of the movement sensor and the time the reading is from.
func (odom *Odometer) TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error) {
	replay := false

	ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
	position, _, err := odom.Odometer.Position(ctxWithMetadata, make(map[string]interface{}))
	if err != nil {
		return TimedOdometerReadingResponse{}, errors.Wrap(err, "Position error")
	}
	orientation, err := odom.Odometer.Orientation(ctxWithMetadata, make(map[string]interface{}))
	if err != nil {
		return TimedOdometerReadingResponse{}, errors.Wrap(err, "Orientation error")
	}

	readingTime := time.Now().UTC()
	if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
		replay = true
		if readingTime, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
			return TimedOdometerReadingResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
		}
	}

	odom.mu.Lock()
	if odom.origin == nil {
		odom.origin = position
	}
	origin := odom.origin
	odom.mu.Unlock()

	x, y := LocalXY(origin, position)
	th := geometry.RadToDeg(orientation.EulerAngles().Yaw)
	return TimedOdometerReadingResponse{
		Pose:           geometry.NewPose(x, y, th),
		ReadingTime:    readingTime,
		IsReplaySensor: replay,
	}, nil
}

// LocalXY returns the east and north offsets in meters of p from origin.
func LocalXY(origin, p *geo.Point) (float64, float64) {
	d := origin.GreatCircleDistance(p) * kilometersToMeters
	if d == 0 {
		return 0, 0
	}
	bearing := geometry.DegToRad(origin.BearingTo(p))
	return d * math.Sin(bearing), d * math.Cos(bearing)
}

// NewOdometer returns a new Odometer, or nil when no movement sensor is named.
func NewOdometer(
	ctx context.Context,
	deps resource.Dependencies,
	movementSensorName string,
	dataFrequencyHz int,
	logger logging.Logger,
) (TimedOdometer, error) {
	_, span := trace.StartSpan(ctx, "viamlaserslam::sensors::NewOdometer")
	defer span.End()
	if movementSensorName == "" {
		return nil, nil
	}
	movementSensor, err := movementsensor.FromDependencies(deps, movementSensorName)
	if err != nil {
		return nil, errors.Wrapf(err, "error getting movement sensor \"%v\" for slam service", movementSensorName)
	}

	// A movement_sensor used as an Odometer must support Position and Orientation.
	properties, err := movementSensor.Properties(ctx, make(map[string]interface{}))
	if err != nil {
		return nil, errors.Wrapf(err, "error getting movement sensor properties from \"%v\" for slam service", movementSensorName)
	}
	if !(properties.PositionSupported && properties.OrientationSupported) {
		return nil, errors.New("configuring Odometer movement sensor error: " +
			"'movement_sensor' must support both Position and Orientation")
	}

	logger.Debugw("odometer configured", "name", movementSensorName, "data_frequency_hz", dataFrequencyHz)
	return NewOdometerFromSource(movementSensorName, dataFrequencyHz, movementSensor), nil
}

// NewOdometerFromSource wraps any position and orientation source.
func NewOdometerFromSource(name string, dataFrequencyHz int, source PositionOrientationSource) *Odometer {
	return &Odometer{name: name, dataFrequencyHz: dataFrequencyHz, Odometer: source}
}
