// Package postprocess contains functionality to postprocess pointcloud maps
package postprocess

import (
	"bytes"
	"errors"
	"image/color"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/pointcloud"
)

// Instruction describes the action of the postprocess step.
type Instruction int

const (
	// Add is the instruction for adding points.
	Add Instruction = iota
	// Remove is the instruction for removing points.
	Remove
)

const (
	fullConfidence = 100
	// RemovalRadius is the distance in millimeters around a removed point within which map points go.
	RemovalRadius = 100
	xKey          = "X"
	yKey          = "Y"

	// ToggleCommand can be used to turn postprocessing on and off.
	ToggleCommand = "postprocess_toggle"
	// AddCommand can be used to add points to the pointcloud map.
	AddCommand = "postprocess_add"
	// RemoveCommand can be used to remove points from the pointcloud map.
	RemoveCommand = "postprocess_remove"
	// UndoCommand can be used to undo last postprocessing step.
	UndoCommand = "postprocess_undo"
)

var (
	// ErrPointsNotASlice denotes that the points have not been properly formatted as a slice.
	ErrPointsNotASlice = errors.New("could not parse provided points as a slice")

	// ErrPointNotAMap denotes that a point has not been properly formatted as a map.
	ErrPointNotAMap = errors.New("could not parse provided point as a map")

	// ErrXNotProvided denotes that an X value was not provided.
	ErrXNotProvided = errors.New("X not provided")

	// ErrXNotFloat64 denotes that an X value is not a float64.
	ErrXNotFloat64 = errors.New("could not parse provided X as a float64")

	// ErrYNotProvided denotes that a Y value was not provided.
	ErrYNotProvided = errors.New("Y not provided")

	// ErrYNotFloat64 denotes that an Y value is not a float64.
	ErrYNotFloat64 = errors.New("could not parse provided Y as a float64")

	// ErrNothingToUndo denotes an undo with no postprocessing steps recorded.
	ErrNothingToUndo = errors.New("no postprocessing step to undo")
)

// Task can be used to construct a postprocessing step. Points are in millimeters in the map frame.
type Task struct {
	Instruction Instruction
	Points      []r3.Vector
}

// ParseDoCommand parses postprocessing DoCommands into Tasks.
func ParseDoCommand(
	unstructuredPoints interface{},
	instruction Instruction,
) (Task, error) {
	pointSlice, ok := unstructuredPoints.([]interface{})
	if !ok {
		return Task{}, ErrPointsNotASlice
	}

	task := Task{Instruction: instruction}
	for _, point := range pointSlice {
		pointMap, ok := point.(map[string]interface{})
		if !ok {
			return Task{}, ErrPointNotAMap
		}

		x, ok := pointMap[xKey]
		if !ok {
			return Task{}, ErrXNotProvided
		}
		xFloat, ok := x.(float64)
		if !ok {
			return Task{}, ErrXNotFloat64
		}

		y, ok := pointMap[yKey]
		if !ok {
			return Task{}, ErrYNotProvided
		}
		yFloat, ok := y.(float64)
		if !ok {
			return Task{}, ErrYNotFloat64
		}

		task.Points = append(task.Points, r3.Vector{X: xFloat, Y: yFloat})
	}
	return task, nil
}

// UpdatePointCloud applies tasks in order to the PCD encoded data and returns the edited PCD.
func UpdatePointCloud(data []byte, tasks []Task) ([]byte, error) {
	pc, err := pointcloud.ReadPCD(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		switch task.Instruction {
		case Add:
			err = addPoints(pc, task.Points)
		case Remove:
			pc, err = removePoints(pc, task.Points)
		}
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := pointcloud.ToPCD(pc, &buf, pointcloud.PCDBinary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addPoints(pc pointcloud.PointCloud, points []r3.Vector) error {
	for _, point := range points {
		/*
			Viam expects pointcloud data with fields "x y z" or "x y z rgb", and for
			this to be specified in the pointcloud header in the FIELDS entry. If color
			data is included in the pointcloud, Viam's services assume that the color
			value encodes a confidence score for that data point. Viam expects the
			confidence score to be encoded in the blue parameter of the RGB value, on a
			scale from 1-100.
		*/
		if err := pc.Set(point, pointcloud.NewColoredData(color.NRGBA{B: fullConfidence, R: fullConfidence})); err != nil {
			return err
		}
	}
	return nil
}

func removePoints(pc pointcloud.PointCloud, points []r3.Vector) (pointcloud.PointCloud, error) {
	updatedPC := pointcloud.NewWithPrealloc(pc.Size())
	var setErr error
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		for _, point := range points {
			if point.Distance(p) <= RemovalRadius {
				return true
			}
		}
		setErr = updatedPC.Set(p, d)
		return setErr == nil
	})
	return updatedPC, setErr
}

// History records postprocessing tasks so they can be undone and switched on or off.
type History struct {
	Enabled bool
	tasks   []Task
}

// Push records task and enables postprocessing.
func (h *History) Push(task Task) {
	h.tasks = append(h.tasks, task)
	h.Enabled = true
}

// Undo forgets the last task.
func (h *History) Undo() error {
	if len(h.tasks) == 0 {
		return ErrNothingToUndo
	}
	h.tasks = h.tasks[:len(h.tasks)-1]
	return nil
}

// Toggle switches postprocessing on or off and returns the new state.
func (h *History) Toggle() bool {
	h.Enabled = !h.Enabled
	return h.Enabled
}

// Apply returns data edited by the recorded tasks, or data unchanged when disabled.
func (h *History) Apply(data []byte) ([]byte, error) {
	if !h.Enabled || len(h.tasks) == 0 {
		return data, nil
	}
	return UpdatePointCloud(data, h.tasks)
}

// Len is the number of recorded tasks.
func (h *History) Len() int {
	return len(h.tasks)
}
