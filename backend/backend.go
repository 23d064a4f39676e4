// Package backend optimizes the pose graph with a pluggable solver and writes the corrected
// trajectory back onto the graph and the point cloud map.
package backend

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
)

// DefaultIterations is the number of solver iterations per adjustment.
const DefaultIterations = 5

// Constraint is a relative pose measurement of node Dst in the frame of node Src, weighted by
// the information matrix Inf (heading in radians).
type Constraint struct {
	Src int
	Dst int
	Rel geometry.Pose
	Inf mat.Matrix
}

// Solver corrects node poses given relative constraints. It must return one pose per input node,
// in input order. Headings cross the interface in degrees.
type Solver interface {
	Solve(ctx context.Context, nodes []geometry.Pose, constraints []Constraint, iterations int) ([]geometry.Pose, error)
}

// BackEnd runs pose adjustment over a graph and remaps the map afterwards.
type BackEnd struct {
	Graph      *posegraph.Graph
	Map        pointcloudmap.Map
	Solver     Solver
	Iterations int

	logger   logging.Logger
	newPoses []geometry.Pose
}

// New returns a back end over graph and m.
func New(graph *posegraph.Graph, m pointcloudmap.Map, solver Solver, logger logging.Logger) *BackEnd {
	return &BackEnd{Graph: graph, Map: m, Solver: solver, Iterations: DefaultIterations, logger: logger}
}

// AdjustPoses solves the graph and keeps the result for RemakeMaps. It returns the corrected
// pose of the last node.
func (b *BackEnd) AdjustPoses(ctx context.Context) (geometry.Pose, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::backend::AdjustPoses")
	defer span.End()

	nodes := b.Graph.Nodes()
	if len(nodes) == 0 {
		return geometry.Pose{}, errors.New("cannot adjust an empty pose graph")
	}
	initial := make([]geometry.Pose, len(nodes))
	for i, n := range nodes {
		initial[i] = n.Pose
	}
	arcs := b.Graph.Arcs()
	constraints := make([]Constraint, len(arcs))
	for i, a := range arcs {
		constraints[i] = Constraint{Src: a.Src, Dst: a.Dst, Rel: a.Rel, Inf: a.Inf}
	}

	newPoses, err := b.Solver.Solve(ctx, initial, constraints, b.Iterations)
	if err != nil {
		return geometry.Pose{}, errors.Wrap(err, "pose graph solver failed")
	}
	if len(newPoses) != len(initial) {
		return geometry.Pose{}, errors.Errorf("pose graph solver returned %d poses for %d nodes", len(newPoses), len(initial))
	}
	b.newPoses = newPoses
	last := newPoses[len(newPoses)-1]
	b.logger.Debugw("adjusted poses", "nodes", len(initial), "arcs", len(constraints),
		"last_x", last.Tx, "last_y", last.Ty, "last_th", last.Th())
	return last, nil
}

// NewPoses returns the result of the last AdjustPoses.
func (b *BackEnd) NewPoses() []geometry.Pose {
	return b.newPoses
}

// RemakeMaps writes the adjusted poses onto the graph nodes and re-projects the map. Map poses
// past the last node, kept after the node pool filled up, move rigidly with the last node.
func (b *BackEnd) RemakeMaps() error {
	if b.newPoses == nil {
		return errors.New("no adjusted poses to remap with")
	}
	mapPoses := b.Map.Poses()
	n := len(b.newPoses)
	if n > len(mapPoses) {
		return errors.Errorf("pose graph has %d nodes, map has %d poses", n, len(mapPoses))
	}
	trajectory := append(make([]geometry.Pose, 0, len(mapPoses)), b.newPoses...)
	for _, p := range mapPoses[n:] {
		rel := geometry.RelativePose(p, mapPoses[n-1])
		trajectory = append(trajectory, geometry.GlobalPose(rel, b.newPoses[n-1]))
	}

	for i, p := range b.newPoses {
		if err := b.Graph.SetNodePose(i, p); err != nil {
			return err
		}
	}
	return b.Map.RemakeMaps(trajectory)
}
