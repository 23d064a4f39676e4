// Package posegraph holds the trajectory as nodes joined by relative pose constraints. Nodes and
// arcs live in bounded arenas and refer to each other by dense integer id.
package posegraph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
)

// DefaultCapacity is the default size of both the node and the arc arena.
const DefaultCapacity = 100000

var (
	// ErrNodePoolFull is returned by AddNode when the node arena is exhausted.
	ErrNodePoolFull = errors.New("pose graph node pool is full")
	// ErrArcPoolFull is returned by AddArc when the arc arena is exhausted.
	ErrArcPoolFull = errors.New("pose graph arc pool is full")
)

// Node is one trajectory pose. Arcs lists the ids of incident arcs.
type Node struct {
	ID   int
	Pose geometry.Pose
	Arcs []int
}

// Arc constrains Dst relative to Src. Inf is the information matrix of Rel, with the heading
// in radians.
type Arc struct {
	Src int
	Dst int
	Rel geometry.Pose
	Inf *mat.Dense
}

// Graph is an arena backed pose graph.
type Graph struct {
	nodeCap int
	arcCap  int
	nodes   []Node
	arcs    []Arc
}

// New returns a graph with the given arena capacities. Non-positive capacities use the default.
func New(nodeCap, arcCap int) *Graph {
	if nodeCap <= 0 {
		nodeCap = DefaultCapacity
	}
	if arcCap <= 0 {
		arcCap = DefaultCapacity
	}
	return &Graph{nodeCap: nodeCap, arcCap: arcCap}
}

// Reset removes every node and arc.
func (g *Graph) Reset() {
	g.nodes = nil
	g.arcs = nil
}

// AddNode appends a node and returns its id, which is the node count before the call.
func (g *Graph) AddNode(pose geometry.Pose) (int, error) {
	if len(g.nodes) >= g.nodeCap {
		return -1, errors.Wrapf(ErrNodePoolFull, "capacity %d", g.nodeCap)
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Pose: pose})
	return id, nil
}

// MakeArc builds an arc from src to dst. The information matrix is the pseudo-inverse of cov.
// The arc is not part of the graph until AddArc.
func (g *Graph) MakeArc(src, dst int, rel geometry.Pose, cov mat.Matrix) Arc {
	return Arc{Src: src, Dst: dst, Rel: rel, Inf: covariance.PseudoInverse(cov)}
}

// AddArc stores a and links it to both end nodes. It returns the arc id.
func (g *Graph) AddArc(a Arc) (int, error) {
	if a.Src < 0 || a.Src >= len(g.nodes) || a.Dst < 0 || a.Dst >= len(g.nodes) {
		return -1, errors.Errorf("arc %d->%d references a missing node", a.Src, a.Dst)
	}
	if len(g.arcs) >= g.arcCap {
		return -1, errors.Wrapf(ErrArcPoolFull, "capacity %d", g.arcCap)
	}
	id := len(g.arcs)
	g.arcs = append(g.arcs, a)
	g.nodes[a.Src].Arcs = append(g.nodes[a.Src].Arcs, id)
	if a.Dst != a.Src {
		g.nodes[a.Dst].Arcs = append(g.nodes[a.Dst].Arcs, id)
	}
	return id, nil
}

// FindNode returns the node with the given id.
func (g *Graph) FindNode(id int) (Node, bool) {
	for _, n := range g.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// FindArc returns the first arc from src to dst.
func (g *Graph) FindArc(src, dst int) (Arc, bool) {
	for _, a := range g.arcs {
		if a.Src == src && a.Dst == dst {
			return a, true
		}
	}
	return Arc{}, false
}

// SetNodePose overwrites the pose of node id.
func (g *Graph) SetNodePose(id int, pose geometry.Pose) error {
	if id < 0 || id >= len(g.nodes) {
		return errors.Errorf("no node %d", id)
	}
	g.nodes[id].Pose = pose
	return nil
}

// Nodes returns the nodes in id order. Callers must not modify it.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Arcs returns the arcs in id order. Callers must not modify it.
func (g *Graph) Arcs() []Arc {
	return g.arcs
}

// LastNode returns the most recently added node.
func (g *Graph) LastNode() (Node, bool) {
	if len(g.nodes) == 0 {
		return Node{}, false
	}
	return g.nodes[len(g.nodes)-1], true
}

// CountLoopArcs returns the number of arcs joining nodes that are not consecutive.
func (g *Graph) CountLoopArcs() int {
	n := 0
	for _, a := range g.arcs {
		if d := a.Dst - a.Src; d > 1 || d < -1 {
			n++
		}
	}
	return n
}
