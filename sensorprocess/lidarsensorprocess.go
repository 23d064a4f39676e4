package sensorprocess

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	s "github.com/viamrobotics/viam-laserslam/sensors"
	"github.com/viamrobotics/viam-laserslam/slamfacade"
)

// StartLidar polls the lidar to get the next sensor reading and adds it to the facade.
// Stops when the context is Done, or in offline mode once the dataset is exhausted, in which case
// the final optimization has run and true is returned.
func (config *Config) StartLidar(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			if config.Online {
				if err := config.addLidarReadingInOnline(ctx); err != nil {
					config.Logger.Warnw("Skipping lidar reading", "error", err)
				}
				continue
			}
			if jobDone := config.addLidarReadingInOffline(ctx); jobDone {
				return true
			}
		}
	}
}

// addLidarReadingInOnline adds the most recent lidar scan, paired with the latest odometry, and sleeps
// the remainder of the lidar interval.
func (config *Config) addLidarReadingInOnline(ctx context.Context) error {
	startTime := time.Now().UTC()
	lidarReading, err := config.Lidar.TimedLidarReading(ctx)
	if err != nil {
		config.sleepRemainder(startTime)
		return err
	}

	if config.Odometer != nil {
		odometerReading, err := config.Odometer.TimedOdometerReading(ctx)
		if err != nil {
			config.sleepRemainder(startTime)
			return errors.Wrap(err, "odometer reading")
		}
		lidarReading.Scan.Pose = odometerReading.Pose
	}

	config.tryAddLidarReadingOnce(ctx, lidarReading)
	config.sleepRemainder(startTime)
	return nil
}

// addLidarReadingInOffline adds the next dataset scan, retrying until the facade accepts it.
// Returns true once the dataset is exhausted and the final optimization has run.
func (config *Config) addLidarReadingInOffline(ctx context.Context) bool {
	lidarReading, err := config.Lidar.TimedLidarReading(ctx)
	if errors.Is(err, s.ErrEndOfDataset) {
		config.Logger.Infow("dataset exhausted, running final optimization", "scans", config.ScanCount())
		if config.RunFinalOptimizationFunc != nil {
			if err := config.RunFinalOptimizationFunc(ctx, config.Timeout); err != nil {
				config.Logger.Errorw("final optimization failed", "error", err)
			}
		}
		return true
	}
	if err != nil {
		config.Logger.Warnw("Skipping lidar reading due to error from lidar", "error", err)
		return false
	}

	if err := config.tryAddLidarReadingUntilSuccess(ctx, lidarReading); err != nil {
		config.Logger.Debugw("Stopped adding lidar reading", "error", err)
	}
	return false
}

// tryAddLidarReadingUntilSuccess adds a reading to the facade and retries on error (offline mode). While add lidar
// reading fails, keep trying to add the same reading - in offline mode we want to process each reading so if we cannot
// acquire the lock we should try again.
func (config *Config) tryAddLidarReadingUntilSuccess(ctx context.Context, reading s.TimedLidarReadingResponse) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := config.tryAddLidarReading(ctx, reading); err != nil {
				if !errors.Is(err, slamfacade.ErrUnableToAcquireLock) {
					config.Logger.Warnw("Retrying sensor reading due to error from slam facade", "error", err)
				}
			} else {
				return nil
			}
		}
	}
}

// tryAddLidarReadingOnce adds a reading to the facade and does not retry.
func (config *Config) tryAddLidarReadingOnce(ctx context.Context, reading s.TimedLidarReadingResponse) {
	if err := config.tryAddLidarReading(ctx, reading); err != nil {
		if errors.Is(err, slamfacade.ErrUnableToAcquireLock) {
			config.Logger.Debugw("Skipping lidar reading due to lock contention in slam facade", "error", err)
		} else {
			config.Logger.Warnw("Skipping lidar reading due to error from slam facade", "error", err)
		}
	}
}

// tryAddLidarReading tries to add a reading to the facade.
func (config *Config) tryAddLidarReading(ctx context.Context, reading s.TimedLidarReadingResponse) error {
	reading.Scan.ID = config.nextScanID()
	err := config.Facade.AddScan(ctx, config.Timeout, reading.Scan)
	if err != nil {
		config.Logger.Debugf("%v \t | LIDAR | Failure \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())
		return err
	}
	config.Logger.Debugf("%v \t | LIDAR | Success \t \t | %v \n", reading.ReadingTime, reading.ReadingTime.Unix())
	config.updateMutexProtectedScanData(reading.ReadingTime)
	return nil
}

// sleepRemainder sleeps what is left of the lidar interval that began at startTime.
func (config *Config) sleepRemainder(startTime time.Time) {
	hz := config.Lidar.DataFrequencyHz()
	if hz <= 0 {
		return
	}
	timeElapsedMs := int(time.Since(startTime).Milliseconds())
	timeToSleep := int(math.Max(0, float64(1000/hz-timeElapsedMs)))
	time.Sleep(time.Duration(timeToSleep) * time.Millisecond)
	config.Logger.Debugf("lidar sleep for %vms", timeToSleep)
}
