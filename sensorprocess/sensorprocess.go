// Package sensorprocess contains the logic to add lidar readings, paired with odometry, to the slam facade.
package sensorprocess

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"

	s "github.com/viamrobotics/viam-laserslam/sensors"
	"github.com/viamrobotics/viam-laserslam/slamfacade"
)

// Config holds config needed throughout the process of adding a sensor reading to the facade.
type Config struct {
	Facade slamfacade.Interface
	Online bool

	Lidar    s.TimedLidar
	Odometer s.TimedOdometer

	Timeout                  time.Duration
	Logger                   logging.Logger
	RunFinalOptimizationFunc func(context.Context, time.Duration) error

	Mutex     *sync.Mutex
	scanCount int
	lastScan  time.Time
}

// ScanCount is the number of scans the facade has accepted.
func (config *Config) ScanCount() int {
	config.Mutex.Lock()
	defer config.Mutex.Unlock()
	return config.scanCount
}

// LastScanTime is the reading time of the last accepted scan.
func (config *Config) LastScanTime() time.Time {
	config.Mutex.Lock()
	defer config.Mutex.Unlock()
	return config.lastScan
}

// Update the accepted scan count under a mutex lock.
func (config *Config) updateMutexProtectedScanData(readingTime time.Time) {
	config.Mutex.Lock()
	config.scanCount++
	config.lastScan = readingTime
	config.Mutex.Unlock()
}

func (config *Config) nextScanID() int {
	config.Mutex.Lock()
	defer config.Mutex.Unlock()
	return config.scanCount
}
