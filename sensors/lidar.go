package sensors

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/utils/contextutils"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const millimetersToMeters = 0.001

// TimedLidar describes a sensor that reports the time the reading is from & whether or not it is
// from a replay sensor.
type TimedLidar interface {
	Name() string
	DataFrequencyHz() int
	TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error)
}

// TimedLidarReadingResponse represents a lidar reading with a time & allows the caller
// to know if the reading is from a replay camera. Scan.Pose is the odometry recorded with the
// scan when the source has one.
type TimedLidarReadingResponse struct {
	Scan           geometry.Scan
	ReadingTime    time.Time
	IsReplaySensor bool
}

// PointCloudSource is the part of an rdk camera the lidar adapter reads from.
type PointCloudSource interface {
	NextPointCloud(ctx context.Context) (pointcloud.PointCloud, error)
}

// Lidar represents a LIDAR sensor.
type Lidar struct {
	name            string
	dataFrequencyHz int
	Lidar           PointCloudSource
	Gate            RangeGate
}

// Name returns the name of the lidar.
func (lidar Lidar) Name() string {
	return lidar.name
}

// DataFrequencyHz returns the data rate in hz of the lidar.
func (lidar Lidar) DataFrequencyHz() int {
	return lidar.dataFrequencyHz
}

// TimedLidarReading returns a planar scan from the lidar and the time the reading is from &
// whether it was a replay sensor or not. Points in millimeters are projected onto the xy plane,
// gated by range and ordered by beam angle. The lidar frame is the robot frame, so no angle
// offset is applied.
func (lidar Lidar) TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error) {
	replay := false

	ctxWithMetadata, md := contextutils.ContextWithMetadata(ctx)
	readingPc, err := lidar.Lidar.NextPointCloud(ctxWithMetadata)
	if err != nil {
		return TimedLidarReadingResponse{}, errors.Wrap(err, "NextPointCloud error")
	}
	readingTime := time.Now().UTC()

	if timeRequestedMetadata, ok := md[contextutils.TimeRequestedMetadataKey]; ok {
		replay = true
		if readingTime, err = time.Parse(time.RFC3339Nano, timeRequestedMetadata[0]); err != nil {
			return TimedLidarReadingResponse{}, errors.Wrap(err, replayTimestampErrorMessage)
		}
	}

	gate := lidar.Gate
	gate.AngleOffsetDeg = 0
	type beam struct {
		angle float64
		point geometry.Point
	}
	beams := make([]beam, 0, readingPc.Size())
	readingPc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		x, y := p.X*millimetersToMeters, p.Y*millimetersToMeters
		angle := geometry.RadToDeg(math.Atan2(y, x))
		if pt, ok := gate.Point(0, angle, math.Hypot(x, y)); ok {
			beams = append(beams, beam{angle: angle, point: pt})
		}
		return true
	})
	// Point clouds carry no beam order. Neighbours in the scan must be neighbours in the sweep.
	sort.Slice(beams, func(i, j int) bool { return beams[i].angle < beams[j].angle })
	scan := geometry.Scan{Points: make([]geometry.Point, len(beams))}
	for i, b := range beams {
		scan.Points[i] = b.point
	}
	return TimedLidarReadingResponse{Scan: scan, ReadingTime: readingTime, IsReplaySensor: replay}, nil
}

// NewLidar returns a new Lidar.
func NewLidar(
	ctx context.Context,
	deps resource.Dependencies,
	cameraName string,
	dataFrequencyHz int,
	gate RangeGate,
	logger logging.Logger,
) (TimedLidar, error) {
	_, span := trace.StartSpan(ctx, "viamlaserslam::sensors::NewLidar")
	defer span.End()
	lidar, err := camera.FromDependencies(deps, cameraName)
	if err != nil {
		return Lidar{}, errors.Wrapf(err, "error getting lidar camera %v for slam service", cameraName)
	}

	// If there is a camera provided in the 'camera' field, we enforce that it supports PCD.
	properties, err := lidar.Properties(ctx)
	if err != nil {
		return Lidar{}, errors.Wrapf(err, "error getting lidar camera properties %v for slam service", cameraName)
	}

	if !properties.SupportsPCD {
		return Lidar{}, errors.New("configuring lidar camera error: " +
			"'camera' must support PCD")
	}

	logger.Debugw("lidar configured", "name", cameraName, "data_frequency_hz", dataFrequencyHz)
	return NewLidarFromSource(cameraName, dataFrequencyHz, lidar, gate), nil
}

// NewLidarFromSource wraps any point cloud source.
func NewLidarFromSource(name string, dataFrequencyHz int, source PointCloudSource, gate RangeGate) Lidar {
	return Lidar{name: name, dataFrequencyHz: dataFrequencyHz, Lidar: source, Gate: gate}
}
