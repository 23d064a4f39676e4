// Package viamlaserslam_test runs the slam service end to end, replaying generated datasets and
// polling mocked sensors.
package viamlaserslam_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	viamgrpc "go.viam.com/rdk/grpc"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/test"

	viamlaserslam "github.com/viamrobotics/viam-laserslam"
	vlConfig "github.com/viamrobotics/viam-laserslam/config"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/internal/testhelper"
	"github.com/viamrobotics/viam-laserslam/postprocess"
	s "github.com/viamrobotics/viam-laserslam/sensors"
)

const jobTimeout = 60 * time.Second

func writeTestDataset(t *testing.T) string {
	t.Helper()
	room := testhelper.Room{HalfWidth: 3, HalfHeight: 2}
	truth := testhelper.NewPath(geometry.NewPose(-1, 0, 0)).Forward(0.6, 0.05).Poses
	return testhelper.WriteDataset(t, room, truth, testhelper.DriftedOdometry(truth, 1, 1), 360)
}

func waitForJobDone(t *testing.T, svc *viamlaserslam.LaserSLAMService) {
	t.Helper()
	deadline := time.Now().Add(jobTimeout)
	for time.Now().Before(deadline) {
		resp, err := svc.DoCommand(context.Background(), map[string]interface{}{"job_done": ""})
		test.That(t, err, test.ShouldBeNil)
		if resp["job_done"] == true {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the dataset to be processed")
}

func readChunks(t *testing.T, f func() ([]byte, error)) []byte {
	t.Helper()
	var buf bytes.Buffer
	for {
		chunk, err := f()
		if errors.Is(err, io.EOF) {
			return buf.Bytes()
		}
		test.That(t, err, test.ShouldBeNil)
		buf.Write(chunk)
	}
}

func pointCloudMap(t *testing.T, svc *viamlaserslam.LaserSLAMService) pointcloud.PointCloud {
	t.Helper()
	f, err := svc.PointCloudMap(context.Background())
	test.That(t, err, test.ShouldBeNil)
	pc, err := pointcloud.ReadPCD(bytes.NewReader(readChunks(t, f)))
	test.That(t, err, test.ShouldBeNil)
	return pc
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("Failed creation with an unsupported mode", func(t *testing.T) {
		cfg := vlConfig.Config{Dataset: writeTestDataset(t), ConfigParams: map[string]string{"mode": "3d"}}
		_, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{}, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("Failed creation without a lidar or dataset", func(t *testing.T) {
		cfg := vlConfig.Config{ConfigParams: map[string]string{"mode": "2d"}}
		_, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{}, logger)
		test.That(t, err, test.ShouldBeError, errors.New("no lidar or dataset provided to slam service"))
	})

	t.Run("Failed creation with a missing dataset", func(t *testing.T) {
		cfg := vlConfig.Config{Dataset: "/nonexistent/dataset.lsc", ConfigParams: map[string]string{"mode": "2d"}}
		_, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{}, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error opening dataset")
	})

	t.Run("Successful creation from a resource config", func(t *testing.T) {
		c := resource.Config{
			Name:  "laserslam",
			API:   generic.API,
			Model: viamlaserslam.Model,
			ConvertedAttributes: &vlConfig.Config{
				Dataset:      writeTestDataset(t),
				ConfigParams: map[string]string{"mode": "2d", "preset": "B"},
			},
		}
		svc, err := viamlaserslam.NewFromResourceConfig(ctx, resource.Dependencies{}, c, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, svc.Name().Name, test.ShouldEqual, "laserslam")
		waitForJobDone(t, svc)
		test.That(t, svc.Close(ctx), test.ShouldBeNil)
	})
}

func TestOfflineDataset(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	outputDir := t.TempDir()

	cfg := vlConfig.Config{
		Dataset:      writeTestDataset(t),
		MapOutputDir: outputDir,
		ConfigParams: map[string]string{"mode": "2d"},
	}
	svc, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{}, logger)
	test.That(t, err, test.ShouldBeNil)
	waitForJobDone(t, svc)

	t.Run("writes the map and trajectory", func(t *testing.T) {
		maps, err := filepath.Glob(filepath.Join(outputDir, "*.pcd"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(maps), test.ShouldEqual, 1)
		trajectories, err := filepath.Glob(filepath.Join(outputDir, "*.json"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(trajectories), test.ShouldEqual, 1)
	})

	t.Run("position is in millimeters", func(t *testing.T) {
		pose, err := svc.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Point().X, test.ShouldAlmostEqual, 600, 50)
		test.That(t, pose.Point().Y, test.ShouldAlmostEqual, 0, 50)
		test.That(t, pose.Orientation().OrientationVectorDegrees().Theta, test.ShouldAlmostEqual, 0, 3)
	})

	t.Run("point cloud map and internal state", func(t *testing.T) {
		test.That(t, pointCloudMap(t, svc).Size(), test.ShouldBeGreaterThan, 0)

		f, err := svc.InternalState(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(readChunks(t, f)), test.ShouldContainSubstring, "session_id")
	})

	t.Run("diagnostics", func(t *testing.T) {
		resp, err := svc.DoCommand(ctx, map[string]interface{}{"diagnostics": ""})
		test.That(t, err, test.ShouldBeNil)
		diagnostics, ok := resp["diagnostics"].(map[string]interface{})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, diagnostics["count"], test.ShouldEqual, 13.0)

		resp, err = svc.DoCommand(ctx, map[string]interface{}{"loop_arcs": ""})
		test.That(t, err, test.ShouldBeNil)
		_, ok = resp["loop_arcs"].(int)
		test.That(t, ok, test.ShouldBeTrue)
	})

	t.Run("postprocessing", func(t *testing.T) {
		added := map[string]interface{}{"X": 10000.0, "Y": 10000.0}
		resp, err := svc.DoCommand(ctx, map[string]interface{}{postprocess.AddCommand: []interface{}{added}})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp[postprocess.AddCommand], test.ShouldEqual, "success")
		_, ok := pointCloudMap(t, svc).At(10000, 10000, 0)
		test.That(t, ok, test.ShouldBeTrue)

		resp, err = svc.DoCommand(ctx, map[string]interface{}{postprocess.ToggleCommand: ""})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp[postprocess.ToggleCommand], test.ShouldBeFalse)
		_, ok = pointCloudMap(t, svc).At(10000, 10000, 0)
		test.That(t, ok, test.ShouldBeFalse)

		_, err = svc.DoCommand(ctx, map[string]interface{}{postprocess.ToggleCommand: ""})
		test.That(t, err, test.ShouldBeNil)
		_, err = svc.DoCommand(ctx, map[string]interface{}{postprocess.UndoCommand: ""})
		test.That(t, err, test.ShouldBeNil)
		_, ok = pointCloudMap(t, svc).At(10000, 10000, 0)
		test.That(t, ok, test.ShouldBeFalse)

		_, err = svc.DoCommand(ctx, map[string]interface{}{postprocess.UndoCommand: ""})
		test.That(t, err, test.ShouldBeError, postprocess.ErrNothingToUndo)
		_, err = svc.DoCommand(ctx, map[string]interface{}{postprocess.RemoveCommand: "bad"})
		test.That(t, err, test.ShouldBeError, postprocess.ErrPointsNotASlice)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := svc.DoCommand(ctx, map[string]interface{}{"gibberish": ""})
		test.That(t, err, test.ShouldBeError, viamgrpc.UnimplementedError)
	})

	t.Run("closed", func(t *testing.T) {
		test.That(t, svc.Close(ctx), test.ShouldBeNil)
		test.That(t, svc.Close(ctx), test.ShouldBeNil)

		_, err := svc.Position(ctx)
		test.That(t, err, test.ShouldBeError, viamlaserslam.ErrClosed)
		_, err = svc.PointCloudMap(ctx)
		test.That(t, err, test.ShouldBeError, viamlaserslam.ErrClosed)
		_, err = svc.InternalState(ctx)
		test.That(t, err, test.ShouldBeError, viamlaserslam.ErrClosed)
		_, err = svc.LatestMapInfo(ctx)
		test.That(t, err, test.ShouldBeError, viamlaserslam.ErrClosed)
		_, err = svc.DoCommand(ctx, map[string]interface{}{"job_done": ""})
		test.That(t, err, test.ShouldBeError, viamlaserslam.ErrClosed)
	})
}

func TestOnlineSensors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	room := testhelper.Room{HalfWidth: 3, HalfHeight: 2}
	pose := geometry.NewPose(0, 0, 0)

	lidar := &s.TimedLidarMock{
		NameValue:            "lidar",
		DataFrequencyHzValue: 100,
		TimedLidarReadingFunc: func(ctx context.Context) (s.TimedLidarReadingResponse, error) {
			return s.TimedLidarReadingResponse{
				Scan:        room.ScanAt(0, pose, pose, 360, 6),
				ReadingTime: time.Now().UTC(),
			}, nil
		},
	}
	odometer := &s.TimedOdometerMock{
		NameValue:            "odometer",
		DataFrequencyHzValue: 100,
		TimedOdometerReadingFunc: func(ctx context.Context) (s.TimedOdometerReadingResponse, error) {
			return s.TimedOdometerReadingResponse{Pose: pose, ReadingTime: time.Now().UTC()}, nil
		},
	}

	enableMapping := false
	cfg := vlConfig.Config{
		Camera:         map[string]string{"name": "lidar", "data_frequency_hz": "100"},
		MovementSensor: map[string]string{"name": "odometer", "data_frequency_hz": "100"},
		EnableMapping:  &enableMapping,
		ConfigParams:   map[string]string{"mode": "2d", "preset": "D"},
	}
	svc, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{Lidar: lidar, Odometer: odometer}, logger)
	test.That(t, err, test.ShouldBeNil)

	deadline := time.Now().Add(jobTimeout)
	var count interface{}
	for time.Now().Before(deadline) {
		resp, err := svc.DoCommand(ctx, map[string]interface{}{"diagnostics": ""})
		test.That(t, err, test.ShouldBeNil)
		count = resp["diagnostics"].(map[string]interface{})["count"]
		if count.(float64) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	test.That(t, count, test.ShouldBeGreaterThanOrEqualTo, 3.0)

	p, err := svc.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Point().X, test.ShouldAlmostEqual, 0, 20)
	test.That(t, p.Point().Y, test.ShouldAlmostEqual, 0, 20)

	resp, err := svc.DoCommand(ctx, map[string]interface{}{"job_done": ""})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["job_done"], test.ShouldBeFalse)

	// With mapping disabled the map timestamp is fixed at the session start.
	first, err := svc.LatestMapInfo(ctx)
	test.That(t, err, test.ShouldBeNil)
	second, err := svc.LatestMapInfo(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, first)

	test.That(t, svc.Close(ctx), test.ShouldBeNil)
}
