// Package viamlaserslam implements 2D laser simultaneous localization and mapping.
// This is an Experimental package.
package viamlaserslam

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/zap/zapcore"
	viamgrpc "go.viam.com/rdk/grpc"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	vlConfig "github.com/viamrobotics/viam-laserslam/config"
	"github.com/viamrobotics/viam-laserslam/dataprocess"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/postprocess"
	"github.com/viamrobotics/viam-laserslam/sensorprocess"
	s "github.com/viamrobotics/viam-laserslam/sensors"
	"github.com/viamrobotics/viam-laserslam/slamfacade"
)

// Model is the model name of the laser slam service.
var (
	Model = resource.NewModel("viam", "slam", "laserslam")
	// ErrClosed denotes that the slam service method was called on a closed slam resource.
	ErrClosed = errors.Errorf("resource (%s) is closed", Model.String())
)

const (
	defaultLidarDataFrequencyHz          = 5
	defaultMovementSensorDataFrequencyHz = 20
	defaultSensorValidationMaxTimeout    = 30 * time.Second
	defaultSensorValidationInterval      = 500 * time.Millisecond
	defaultFacadeTimeout                 = 5 * time.Minute
	chunkSizeBytes                       = 1 * 1024 * 1024
	metersToMillimeters                  = 1000.0

	jobDoneCommand     = "job_done"
	diagnosticsCommand = "diagnostics"
	loopArcsCommand    = "loop_arcs"
)

func init() {
	resource.RegisterService(generic.API, Model, resource.Registration[resource.Resource, *vlConfig.Config]{
		Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			c resource.Config,
			logger logging.Logger,
		) (resource.Resource, error) {
			return NewFromResourceConfig(ctx, deps, c, logger)
		},
	})
}

// Dependencies are the sensors the service maps from when no dataset is configured.
type Dependencies struct {
	Lidar    s.TimedLidar
	Odometer s.TimedOdometer
}

// LaserSLAMService is the structure of the slam service.
type LaserSLAMService struct {
	resource.Named
	resource.AlwaysRebuild

	mu          sync.Mutex
	closed      bool
	postprocess postprocess.History

	lidar    s.TimedLidar
	odometer s.TimedOdometer
	dataset  *s.DatasetReader

	facade        slamfacade.Interface
	facadeTimeout time.Duration

	cancelSensorProcessFunc func()
	cancelFacadeFunc        func()
	logger                  logging.Logger
	sensorProcessWorkers    sync.WaitGroup
	facadeWorkers           sync.WaitGroup

	mapTimestamp  time.Time
	mapOutputDir  string
	enableMapping bool
	jobDone       atomic.Bool
}

// NewFromResourceConfig builds the service from a robot config, getting the lidar camera and
// movement sensor from deps.
func NewFromResourceConfig(
	ctx context.Context,
	deps resource.Dependencies,
	c resource.Config,
	logger logging.Logger,
) (*LaserSLAMService, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamService::NewFromResourceConfig")
	defer span.End()

	svcConfig, err := resource.NativeConfig[*vlConfig.Config](c)
	if err != nil {
		return nil, err
	}
	algoCfg, err := vlConfig.ParseAlgoConfig(svcConfig.ConfigParams, logger)
	if err != nil {
		return nil, err
	}
	optionalConfigParams, err := vlConfig.GetOptionalParameters(
		svcConfig,
		defaultLidarDataFrequencyHz,
		defaultMovementSensorDataFrequencyHz,
		logger,
	)
	if err != nil {
		return nil, err
	}

	var sensorDeps Dependencies
	if svcConfig.Dataset == "" {
		if sensorDeps.Lidar, err = s.NewLidar(ctx, deps, optionalConfigParams.LidarName,
			optionalConfigParams.LidarDataFrequencyHz, algoCfg.RangeGate(), logger); err != nil {
			return nil, err
		}
		if sensorDeps.Odometer, err = s.NewOdometer(ctx, deps, optionalConfigParams.MovementSensorName,
			optionalConfigParams.MovementSensorDataFrequencyHz, logger); err != nil {
			return nil, err
		}
	}

	return newService(ctx, c.ResourceName(), *svcConfig, algoCfg, optionalConfigParams, sensorDeps, logger)
}

// New returns a new slam service. With a dataset configured the scans are replayed from it and
// deps is ignored; otherwise deps.Lidar is polled and paired with deps.Odometer when present.
func New(
	ctx context.Context,
	cfg vlConfig.Config,
	deps Dependencies,
	logger logging.Logger,
) (*LaserSLAMService, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamService::New")
	defer span.End()

	algoCfg, err := vlConfig.ParseAlgoConfig(cfg.ConfigParams, logger)
	if err != nil {
		return nil, err
	}
	optionalConfigParams, err := vlConfig.GetOptionalParameters(
		&cfg,
		defaultLidarDataFrequencyHz,
		defaultMovementSensorDataFrequencyHz,
		logger,
	)
	if err != nil {
		return nil, err
	}
	return newService(ctx, resource.NewName(generic.API, "laserslam"), cfg, algoCfg, optionalConfigParams, deps, logger)
}

func newService(
	ctx context.Context,
	name resource.Name,
	cfg vlConfig.Config,
	algoCfg vlConfig.AlgoConfig,
	optionalConfigParams vlConfig.OptionalConfigParams,
	deps Dependencies,
	logger logging.Logger,
) (_ *LaserSLAMService, err error) {
	if algoCfg.LogLevel == zapcore.DebugLevel {
		logger.SetLevel(logging.DEBUG)
	}

	svc := &LaserSLAMService{
		Named:         name.AsNamed(),
		lidar:         deps.Lidar,
		odometer:      deps.Odometer,
		facadeTimeout: defaultFacadeTimeout,
		logger:        logger,
		mapTimestamp:  time.Now().UTC(),
		mapOutputDir:  optionalConfigParams.MapOutputDir,
		enableMapping: optionalConfigParams.EnableMapping,
	}

	if cfg.Dataset != "" {
		if svc.dataset, err = s.NewDatasetReader(cfg.Dataset, algoCfg.RangeGate(), algoCfg.SkipScans); err != nil {
			return nil, err
		}
		svc.lidar = svc.dataset
		svc.odometer = nil
	}
	if svc.lidar == nil {
		return nil, errors.New("no lidar or dataset provided to slam service")
	}

	// The sensor process has to be shut down before the facade.
	cancelSensorProcessCtx, cancelSensorProcessFunc := context.WithCancel(context.Background())
	cancelFacadeCtx, cancelFacadeFunc := context.WithCancel(context.Background())
	svc.cancelSensorProcessFunc = cancelSensorProcessFunc
	svc.cancelFacadeFunc = cancelFacadeFunc

	defer func() {
		if err != nil {
			logger.Errorw("New() hit error, closing...", "error", err)
			if err := svc.Close(ctx); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	if svc.dataset == nil {
		if err = s.ValidateGetLidarData(cancelSensorProcessCtx, svc.lidar,
			defaultSensorValidationMaxTimeout, defaultSensorValidationInterval, logger); err != nil {
			err = errors.Wrap(err, "failed to get data from lidar")
			return nil, err
		}
		if svc.odometer != nil {
			if err = s.ValidateGetOdometerData(cancelSensorProcessCtx, svc.odometer,
				defaultSensorValidationMaxTimeout, defaultSensorValidationInterval, logger); err != nil {
				err = errors.Wrap(err, "failed to get data from odometer")
				return nil, err
			}
		}
	}

	session, err := slamfacade.NewSession(algoCfg, logger.Sublogger("session"))
	if err != nil {
		return nil, err
	}
	facade := slamfacade.New(session, logger.Sublogger("facade"))
	if err = facade.Start(cancelFacadeCtx, svc.facadeTimeout, &svc.facadeWorkers); err != nil {
		logger.Errorw("slam facade start failed", "error", err)
		return nil, err
	}
	svc.facade = facade
	logger.Infow("slam session started", "session_id", facade.ID.String(), "preset", algoCfg.Preset)

	initSensorProcess(cancelSensorProcessCtx, svc)
	return svc, nil
}

func initSensorProcess(cancelCtx context.Context, svc *LaserSLAMService) {
	spConfig := sensorprocess.Config{
		Facade:                   svc.facade,
		Online:                   svc.dataset == nil,
		Lidar:                    svc.lidar,
		Odometer:                 svc.odometer,
		Timeout:                  svc.facadeTimeout,
		Logger:                   svc.logger,
		RunFinalOptimizationFunc: svc.facade.RunFinalOptimization,
		Mutex:                    &sync.Mutex{},
	}

	svc.sensorProcessWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer svc.sensorProcessWorkers.Done()
		if jobDone := spConfig.StartLidar(cancelCtx); jobDone {
			if err := svc.writeOutputs(cancelCtx); err != nil {
				svc.logger.Errorw("failed to write map outputs", "error", err)
			}
			svc.jobDone.Store(true)
			svc.logger.Infow("dataset processed", "scans", spConfig.ScanCount())
		}
	})
}

// writeOutputs saves the map and trajectory to the map output dir, if one is configured.
func (svc *LaserSLAMService) writeOutputs(ctx context.Context) error {
	if svc.mapOutputDir == "" || !svc.enableMapping {
		return nil
	}
	pcd, err := svc.facade.PointCloudMap(ctx, svc.facadeTimeout)
	if err != nil {
		return err
	}
	is, err := svc.facade.InternalState(ctx, svc.facadeTimeout)
	if err != nil {
		return err
	}
	var state slamfacade.State
	if err := json.Unmarshal(is, &state); err != nil {
		return err
	}

	timeStamp := time.Now().UTC()
	primarySensorName := filepath.Base(svc.lidar.Name())
	mapName := dataprocess.CreateTimestampFilename(svc.mapOutputDir, primarySensorName, ".pcd", timeStamp)
	if err := dataprocess.WriteBytesToFile(pcd, mapName); err != nil {
		return err
	}
	trajectoryName := dataprocess.CreateTimestampFilename(svc.mapOutputDir, primarySensorName, ".json", timeStamp)
	if err := dataprocess.WriteTrajectoryToFile(state.Poses, trajectoryName); err != nil {
		return err
	}
	svc.logger.Infow("map outputs written", "map", mapName, "trajectory", trajectoryName)
	return nil
}

func (svc *LaserSLAMService) isClosed() bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.closed
}

// Position returns the latest pose estimate in millimeters, with the heading as a rotation about z.
func (svc *LaserSLAMService) Position(ctx context.Context) (spatialmath.Pose, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::LaserSLAMService::Position")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("Position called after closed")
		return nil, ErrClosed
	}

	pose, err := svc.facade.Position(ctx, svc.facadeTimeout)
	if err != nil {
		return nil, err
	}
	return toSpatialPose(pose), nil
}

func toSpatialPose(pose geometry.Pose) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: pose.Tx * metersToMillimeters, Y: pose.Ty * metersToMillimeters},
		&spatialmath.OrientationVectorDegrees{OZ: 1, Theta: pose.Th()},
	)
}

// PointCloudMap returns a callback function which will return the next chunk of the current
// pointcloud map, with any postprocessing applied.
func (svc *LaserSLAMService) PointCloudMap(ctx context.Context) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::LaserSLAMService::PointCloudMap")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("PointCloudMap called after closed")
		return nil, ErrClosed
	}

	pc, err := svc.facade.PointCloudMap(ctx, svc.facadeTimeout)
	if err != nil {
		return nil, err
	}

	svc.mu.Lock()
	pc, err = svc.postprocess.Apply(pc)
	svc.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(pc), nil
}

// InternalState returns a callback function which will return the next chunk of the current
// internal state of the slam session.
func (svc *LaserSLAMService) InternalState(ctx context.Context) (func() ([]byte, error), error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::LaserSLAMService::InternalState")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("InternalState called after closed")
		return nil, ErrClosed
	}

	is, err := svc.facade.InternalState(ctx, svc.facadeTimeout)
	if err != nil {
		return nil, err
	}
	return toChunkedFunc(is), nil
}

func toChunkedFunc(b []byte) func() ([]byte, error) {
	chunk := make([]byte, chunkSizeBytes)

	reader := bytes.NewReader(b)

	f := func() ([]byte, error) {
		bytesRead, err := reader.Read(chunk)
		if err != nil {
			return nil, err
		}
		return chunk[:bytesRead], err
	}
	return f
}

// LatestMapInfo returns a new timestamp every time it is called when mapping is enabled, to signal
// that the map should be updated. Otherwise the timestamp of the session is returned.
func (svc *LaserSLAMService) LatestMapInfo(ctx context.Context) (time.Time, error) {
	_, span := trace.StartSpan(ctx, "viamlaserslam::LaserSLAMService::LatestMapInfo")
	defer span.End()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.closed {
		svc.logger.Warn("LatestMapInfo called after closed")
		return time.Time{}, ErrClosed
	}
	if svc.enableMapping {
		svc.mapTimestamp = time.Now().UTC()
	}
	return svc.mapTimestamp, nil
}

// DoCommand receives arbitrary commands.
func (svc *LaserSLAMService) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::LaserSLAMService::DoCommand")
	defer span.End()
	if svc.isClosed() {
		svc.logger.Warn("DoCommand called after closed")
		return nil, ErrClosed
	}

	if _, ok := req[jobDoneCommand]; ok {
		return map[string]interface{}{jobDoneCommand: svc.jobDone.Load()}, nil
	}

	if _, ok := req[diagnosticsCommand]; ok {
		diagnostics, err := svc.facade.Diagnostics(ctx, svc.facadeTimeout)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(diagnostics)
		if err != nil {
			return nil, err
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(b, &resp); err != nil {
			return nil, err
		}
		return map[string]interface{}{diagnosticsCommand: resp}, nil
	}

	if _, ok := req[loopArcsCommand]; ok {
		diagnostics, err := svc.facade.Diagnostics(ctx, svc.facadeTimeout)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{loopArcsCommand: diagnostics.LoopArcs}, nil
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, ok := req[postprocess.ToggleCommand]; ok {
		enabled := svc.postprocess.Toggle()
		svc.logger.Infow("postprocessing toggled", "enabled", enabled)
		return map[string]interface{}{postprocess.ToggleCommand: enabled}, nil
	}

	if points, ok := req[postprocess.AddCommand]; ok {
		task, err := postprocess.ParseDoCommand(points, postprocess.Add)
		if err != nil {
			return nil, err
		}
		svc.postprocess.Push(task)
		return map[string]interface{}{postprocess.AddCommand: "success"}, nil
	}

	if points, ok := req[postprocess.RemoveCommand]; ok {
		task, err := postprocess.ParseDoCommand(points, postprocess.Remove)
		if err != nil {
			return nil, err
		}
		svc.postprocess.Push(task)
		return map[string]interface{}{postprocess.RemoveCommand: "success"}, nil
	}

	if _, ok := req[postprocess.UndoCommand]; ok {
		if err := svc.postprocess.Undo(); err != nil {
			return nil, err
		}
		return map[string]interface{}{postprocess.UndoCommand: "success"}, nil
	}

	return nil, viamgrpc.UnimplementedError
}

// Close out of all slam related processes.
func (svc *LaserSLAMService) Close(ctx context.Context) error {
	svc.mu.Lock()
	if svc.closed {
		svc.mu.Unlock()
		svc.logger.Warn("Close() called multiple times")
		return nil
	}
	svc.closed = true
	svc.mu.Unlock()

	svc.logger.Info("Closing laser slam service")

	// stop sensor process workers
	if svc.cancelSensorProcessFunc != nil {
		svc.cancelSensorProcessFunc()
	}
	svc.sensorProcessWorkers.Wait()

	// stop facade workers
	if svc.cancelFacadeFunc != nil {
		svc.cancelFacadeFunc()
	}
	svc.facadeWorkers.Wait()

	if svc.dataset != nil {
		if err := svc.dataset.Close(); err != nil {
			svc.logger.Errorw("close hit error", "error", err)
		}
	}

	svc.logger.Info("Closing complete")
	return nil
}
