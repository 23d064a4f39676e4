package frontend

import (
	"context"

	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
	"github.com/viamrobotics/viam-laserslam/scanmatch"
)

// OdometryMapper places every scan at its odometry pose relative to the first scan. It is the
// baseline a SLAM session is compared against.
type OdometryMapper struct {
	Map pointcloudmap.Map

	logger   logging.Logger
	cnt      int
	initPose geometry.Pose
	diag     scanmatch.Diagnostics
}

// NewOdometryMapper returns a mapper that fills m.
func NewOdometryMapper(m pointcloudmap.Map, logger logging.Logger) *OdometryMapper {
	return &OdometryMapper{Map: m, logger: logger}
}

// Process adds scan to the map at its odometry pose.
func (o *OdometryMapper) Process(_ context.Context, scan geometry.Scan) error {
	if o.cnt == 0 {
		o.initPose = scan.Pose
	}
	pose := geometry.RelativePose(scan.Pose, o.initPose)
	pts := scan.Transformed(pose)
	for i := range pts {
		pts[i].ScanID = o.cnt
	}

	o.Map.AddPose(pose)
	if err := o.Map.AddPoints(pts); err != nil {
		o.logger.Warnw("point cloud map is full", "scan", o.cnt, "error", err)
	}
	o.Map.SetLastPose(pose)
	o.Map.SetLastScan(scan)
	o.Map.MakeGlobalMap()

	o.diag = scanmatch.Diagnostics{ScanID: o.cnt, X: pose.Tx, Y: pose.Ty, Th: pose.Th()}
	o.cnt++
	return nil
}

// FinalOptimization does nothing; there is no graph to adjust.
func (o *OdometryMapper) FinalOptimization(context.Context) error {
	return nil
}

// Count is the number of processed scans.
func (o *OdometryMapper) Count() int {
	return o.cnt
}

// Poses returns a copy of the odometry trajectory.
func (o *OdometryMapper) Poses() []geometry.Pose {
	return append([]geometry.Pose(nil), o.Map.Poses()...)
}

// LastPose is the odometry pose of the last scan.
func (o *OdometryMapper) LastPose() geometry.Pose {
	return o.Map.LastPose()
}

// GlobalMap returns a copy of the global map.
func (o *OdometryMapper) GlobalMap() []geometry.Point {
	return append([]geometry.Point(nil), o.Map.GlobalMap()...)
}

// Arcs is always empty.
func (o *OdometryMapper) Arcs() []posegraph.Arc {
	return nil
}

// LoopMatches is always empty.
func (o *OdometryMapper) LoopMatches() []loopdetect.LoopMatch {
	return nil
}

// Diagnostics reports the last placed scan.
func (o *OdometryMapper) Diagnostics() Diagnostics {
	return Diagnostics{Count: o.cnt, MapPoints: o.Map.Size(), ATD: o.Map.ATD(), Scan: o.diag}
}
