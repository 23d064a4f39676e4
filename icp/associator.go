// Package icp registers a scan against a reference point set by iterating nearest neighbor
// association and rigid transform optimization.
package icp

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/gridindex"
)

// DefaultGate is the maximum distance in meters between associated points.
const DefaultGate = 0.2

// Matches holds associated pairs as parallel index lists. Cur[k] indexes the current scan points
// and Ref[k] indexes the reference points of the associator that produced the matches.
type Matches struct {
	Cur   []int
	Ref   []int
	Ratio float64
}

// Len returns the number of matched pairs.
func (m Matches) Len() int {
	return len(m.Cur)
}

// Associator finds, for each current point, the closest reference point within a gate.
type Associator interface {
	SetReference(ref []geometry.Point)
	Reference() []geometry.Point
	Associate(cur []geometry.Point, pose geometry.Pose) Matches
}

// LinearAssociator compares every current point against every reference point.
type LinearAssociator struct {
	Gate float64
	ref  []geometry.Point
}

// NewLinearAssociator returns a brute force associator with the default gate.
func NewLinearAssociator() *LinearAssociator {
	return &LinearAssociator{Gate: DefaultGate}
}

// SetReference stores the reference set.
func (a *LinearAssociator) SetReference(ref []geometry.Point) {
	a.ref = ref
}

// Reference returns the reference set.
func (a *LinearAssociator) Reference() []geometry.Point {
	return a.ref
}

// Associate transforms cur by pose and matches each point to its nearest reference point.
func (a *LinearAssociator) Associate(cur []geometry.Point, pose geometry.Pose) Matches {
	var m Matches
	gate2 := a.Gate * a.Gate
	for i, p := range cur {
		g := pose.GlobalPoint(p)
		best := math.MaxFloat64
		bestIdx := -1
		for j, r := range a.ref {
			if d := g.Dist2(r); d <= gate2 && d < best {
				best = d
				bestIdx = j
			}
		}
		if bestIdx >= 0 {
			m.Cur = append(m.Cur, i)
			m.Ref = append(m.Ref, bestIdx)
		}
	}
	m.Ratio = ratio(m.Len(), len(cur))
	return m
}

// GridAssociator answers nearest neighbor queries through a grid index built on SetReference.
type GridAssociator struct {
	Gate  float64
	ref   []geometry.Point
	table *gridindex.Table
}

// NewGridAssociator returns a grid associator over the default grid.
func NewGridAssociator() *GridAssociator {
	return &GridAssociator{Gate: DefaultGate, table: gridindex.NewDefault()}
}

// SetReference indexes the reference set. Points outside the grid are not matchable.
func (a *GridAssociator) SetReference(ref []geometry.Point) {
	a.ref = ref
	a.table.Clear()
	for i, p := range ref {
		a.table.Insert(p, i)
	}
}

// Reference returns the reference set.
func (a *GridAssociator) Reference() []geometry.Point {
	return a.ref
}

// Associate transforms cur by pose and matches each point through the grid.
func (a *GridAssociator) Associate(cur []geometry.Point, pose geometry.Pose) Matches {
	var m Matches
	for i, p := range cur {
		g := pose.GlobalPoint(p)
		if h, _, ok := a.table.Nearest(g.X, g.Y, a.Gate); ok {
			m.Cur = append(m.Cur, i)
			m.Ref = append(m.Ref, h)
		}
	}
	m.Ratio = ratio(m.Len(), len(cur))
	return m
}

func ratio(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}
