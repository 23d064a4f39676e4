package scanmatch

import (
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
)

// RefScanMaker supplies the reference points a new scan is registered against.
type RefScanMaker interface {
	MakeRefScan() []geometry.Point
}

// PreviousScanRef uses the last processed scan, placed at the last estimated pose.
type PreviousScanRef struct {
	Map pointcloudmap.Map
}

// MakeRefScan implements RefScanMaker.
func (r PreviousScanRef) MakeRefScan() []geometry.Point {
	last := r.Map.LastScan()
	pose := r.Map.LastPose()
	out := make([]geometry.Point, len(last.Points))
	for i, p := range last.Points {
		out[i] = pose.GlobalPoint(p)
	}
	return out
}

// LocalMapRef uses the map's local map.
type LocalMapRef struct {
	Map pointcloudmap.Map
}

// MakeRefScan implements RefScanMaker.
func (r LocalMapRef) MakeRefScan() []geometry.Point {
	return r.Map.LocalMap()
}
