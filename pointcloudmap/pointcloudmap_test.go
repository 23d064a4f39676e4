package pointcloudmap

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

// clusterAt returns three points inside a single grid cell near (x, y), owned by scan sid.
func clusterAt(sid int, x, y float64) []geometry.Point {
	var pts []geometry.Point
	for _, d := range []float64{0.02, 0.025, 0.03} {
		p := geometry.NewPoint(sid, x+d, y+d)
		p.SetNormal(0, -1)
		p.Type = geometry.Line
		pts = append(pts, p)
	}
	return pts
}

func TestAll(t *testing.T) {
	t.Run("keeps every fifth point", func(t *testing.T) {
		m := NewAll(0)
		m.AddPose(geometry.NewPose(3, 4, 0))
		pts := make([]geometry.Point, 12)
		for i := range pts {
			pts[i] = geometry.NewPoint(0, float64(i), 0)
		}
		test.That(t, m.AddPoints(pts), test.ShouldBeNil)
		test.That(t, m.Size(), test.ShouldEqual, 3)
		test.That(t, m.GlobalMap()[1].X, test.ShouldEqual, 5)
		test.That(t, m.GlobalMap()[2].ATD, test.ShouldEqual, 5)
		test.That(t, m.ATD(), test.ShouldEqual, 5)
		m.MakeLocalMap()
		test.That(t, m.LocalMap(), test.ShouldBeEmpty)
	})

	t.Run("capacity", func(t *testing.T) {
		m := NewAll(2)
		pts := make([]geometry.Point, 12)
		err := m.AddPoints(pts)
		test.That(t, errors.Is(err, ErrMapFull), test.ShouldBeTrue)
		test.That(t, m.Size(), test.ShouldEqual, 2)

		err = m.AddPoints(pts[:1])
		test.That(t, errors.Is(err, ErrMapFull), test.ShouldBeTrue)
		test.That(t, m.Size(), test.ShouldEqual, 2)
	})
}

func TestGrid(t *testing.T) {
	m := NewGrid(0)
	for i := 0; i < 4; i++ {
		m.AddPose(geometry.NewPose(float64(i), 0, 0))
		test.That(t, m.AddPoints(clusterAt(i, float64(i), 1)), test.ShouldBeNil)
	}
	test.That(t, m.Size(), test.ShouldEqual, 12)

	m.MakeGlobalMap()
	test.That(t, len(m.GlobalMap()), test.ShouldEqual, 4)
	for i, p := range m.GlobalMap() {
		test.That(t, p.ScanID, test.ShouldEqual, i)
		test.That(t, p.X, test.ShouldAlmostEqual, float64(i)+0.025, 1e-9)
		test.That(t, p.Type, test.ShouldEqual, geometry.Line)
	}
	m.MakeLocalMap()
	test.That(t, m.LocalMap(), test.ShouldResemble, m.GlobalMap())

	t.Run("representatives need nthre points", func(t *testing.T) {
		m.SetNThre(4)
		m.MakeGlobalMap()
		test.That(t, m.GlobalMap(), test.ShouldBeEmpty)
	})

	t.Run("remake is a no-op", func(t *testing.T) {
		m.SetNThre(1)
		m.MakeGlobalMap()
		moved := make([]geometry.Pose, len(m.Poses()))
		for i := range moved {
			moved[i] = geometry.NewPose(float64(i), 5, 0)
		}
		test.That(t, m.RemakeMaps(moved), test.ShouldBeNil)
		m.MakeGlobalMap()
		test.That(t, m.GlobalMap()[0].Y, test.ShouldAlmostEqual, 1.025, 1e-9)
		test.That(t, m.Poses()[0].Ty, test.ShouldEqual, 0)
	})
}

func buildSubmaps(t *testing.T, scans int) *Submaps {
	t.Helper()
	m := NewSubmaps(0)
	for i := 0; i < scans; i++ {
		m.AddPose(geometry.NewPose(float64(i), 0, 0))
		test.That(t, m.AddPoints(clusterAt(i, float64(i), 1)), test.ShouldBeNil)
	}
	return m
}

func TestSubmaps(t *testing.T) {
	t.Run("opens a new submap after the travel threshold", func(t *testing.T) {
		m := buildSubmaps(t, 10)
		test.That(t, len(m.Submaps()), test.ShouldEqual, 1)
		test.That(t, m.Submaps()[0].Open(), test.ShouldBeTrue)

		m.AddPose(geometry.NewPose(10, 0, 0))
		test.That(t, m.AddPoints(clusterAt(10, 10, 1)), test.ShouldBeNil)
		subs := m.Submaps()
		test.That(t, len(subs), test.ShouldEqual, 2)
		test.That(t, subs[0].Open(), test.ShouldBeFalse)
		test.That(t, subs[0].End, test.ShouldEqual, 10)
		test.That(t, len(subs[0].Points), test.ShouldEqual, 10)
		test.That(t, subs[1].Start, test.ShouldEqual, 11)
		test.That(t, subs[1].ATDStart, test.ShouldEqual, 10)
		test.That(t, len(subs[1].Points), test.ShouldEqual, 3)
		test.That(t, m.Size(), test.ShouldEqual, 13)
	})

	t.Run("global and local maps", func(t *testing.T) {
		m := buildSubmaps(t, 25)
		test.That(t, len(m.Submaps()), test.ShouldEqual, 3)

		m.MakeGlobalMap()
		test.That(t, len(m.GlobalMap()), test.ShouldEqual, 25)
		test.That(t, len(m.LocalMap()), test.ShouldEqual, 10+5)

		m.MakeLocalMap()
		test.That(t, len(m.LocalMap()), test.ShouldEqual, 15)
		test.That(t, m.LocalMap()[0].ScanID, test.ShouldEqual, 10)
	})

	t.Run("remake moves points onto corrected poses", func(t *testing.T) {
		m := buildSubmaps(t, 15)
		newPoses := make([]geometry.Pose, len(m.Poses()))
		for i := range newPoses {
			newPoses[i] = geometry.NewPose(float64(i), 0.5, 0)
		}
		test.That(t, m.RemakeMaps(newPoses), test.ShouldBeNil)
		for _, s := range m.Submaps() {
			for _, p := range s.Points {
				test.That(t, p.Y, test.ShouldAlmostEqual, 1.525, 0.006)
			}
		}
		for _, p := range m.GlobalMap() {
			test.That(t, p.Y, test.ShouldAlmostEqual, 1.525, 1e-9)
		}
		test.That(t, m.Poses()[3].Ty, test.ShouldEqual, 0.5)
		test.That(t, m.LastPose().Tx, test.ShouldEqual, 14)
	})

	t.Run("remake rotates normals", func(t *testing.T) {
		m := buildSubmaps(t, 3)
		newPoses := append([]geometry.Pose(nil), m.Poses()...)
		newPoses[1] = geometry.NewPose(1, 0, 90)
		test.That(t, m.RemakeMaps(newPoses), test.ShouldBeNil)
		p := m.Submaps()[0].Points[3]
		test.That(t, p.ScanID, test.ShouldEqual, 1)
		test.That(t, p.X, test.ShouldAlmostEqual, 1-1.02, 1e-9)
		test.That(t, p.Y, test.ShouldAlmostEqual, 0.02, 1e-9)
		test.That(t, p.NX, test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, p.NY, test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("remake rejects a trajectory of the wrong length", func(t *testing.T) {
		m := buildSubmaps(t, 3)
		test.That(t, m.RemakeMaps(nil), test.ShouldNotBeNil)
	})
}
