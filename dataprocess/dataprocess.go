// Package dataprocess manages code related to the data-saving process.
package dataprocess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	pc "go.viam.com/rdk/pointcloud"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// SlamTimeFormat is the timestamp format used in the dataprocess.
	SlamTimeFormat = "2006-01-02T15:04:05.0000Z"

	// MetersToMillimeters scales map coordinates into the point cloud frame.
	MetersToMillimeters = 1000.0

	fullConfidence = 100
)

// CreateTimestampFilename creates an absolute filename with a primary sensor name and timestamp written
// into the filename.
func CreateTimestampFilename(dataDirectory, primarySensorName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, primarySensorName+"_data_"+timeStamp.UTC().Format(SlamTimeFormat)+fileType)
}

// MapToPointCloud converts map points in meters to a point cloud in millimeters. Every point
// carries full confidence in the blue channel.
func MapToPointCloud(points []geometry.Point) (pc.PointCloud, error) {
	cloud := pc.NewWithPrealloc(len(points))
	for _, p := range points {
		v := r3.Vector{X: p.X * MetersToMillimeters, Y: p.Y * MetersToMillimeters}
		if err := cloud.Set(v, pc.NewColoredData(color.NRGBA{B: fullConfidence, R: fullConfidence})); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

// MapToPCD encodes map points as a binary PCD.
func MapToPCD(points []geometry.Point) ([]byte, error) {
	cloud, err := MapToPointCloud(points)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(cloud, buf, pc.PCDBinary); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePCDToFile encodes the pointcloud and then saves it to the passed filename.
func WritePCDToFile(pointcloud pc.PointCloud, filename string) error {
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, pc.PCDBinary); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// TrajectoryPose is one trajectory entry as written to file. Th is in degrees.
type TrajectoryPose struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Th float64 `json:"th"`
}

// Trajectory converts poses to their file form.
func Trajectory(poses []geometry.Pose) []TrajectoryPose {
	out := make([]TrajectoryPose, len(poses))
	for i, p := range poses {
		out[i] = TrajectoryPose{ID: i, X: p.Tx, Y: p.Ty, Th: p.Th()}
	}
	return out
}

// WriteTrajectoryToFile encodes the trajectory as JSON and then saves it to the passed filename.
func WriteTrajectoryToFile(trajectory []TrajectoryPose, filename string) error {
	b, err := json.Marshal(trajectory)
	if err != nil {
		return err
	}
	return WriteBytesToFile(b, filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
