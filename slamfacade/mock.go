package slamfacade

import (
	"context"
	"sync"
	"time"

	"github.com/viamrobotics/viam-laserslam/frontend"
	"github.com/viamrobotics/viam-laserslam/geometry"
)

// Mock represents a fake instance of the facade. A nil func falls back to the embedded Facade.
type Mock struct {
	*Facade

	StartFunc func(
		ctx context.Context,
		timeout time.Duration,
		activeBackgroundWorkers *sync.WaitGroup,
	) error
	AddScanFunc func(
		ctx context.Context,
		timeout time.Duration,
		scan geometry.Scan,
	) error
	PositionFunc func(
		ctx context.Context,
		timeout time.Duration,
	) (geometry.Pose, error)
	PointCloudMapFunc func(
		ctx context.Context,
		timeout time.Duration,
	) ([]byte, error)
	InternalStateFunc func(
		ctx context.Context,
		timeout time.Duration,
	) ([]byte, error)
	RunFinalOptimizationFunc func(
		ctx context.Context,
		timeout time.Duration,
	) error
	DiagnosticsFunc func(
		ctx context.Context,
		timeout time.Duration,
	) (frontend.Diagnostics, error)
}

// Start calls the injected StartFunc or the real version.
func (m *Mock) Start(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error {
	if m.StartFunc == nil {
		return m.Facade.Start(ctx, timeout, activeBackgroundWorkers)
	}
	return m.StartFunc(ctx, timeout, activeBackgroundWorkers)
}

// AddScan calls the injected AddScanFunc or the real version.
func (m *Mock) AddScan(ctx context.Context, timeout time.Duration, scan geometry.Scan) error {
	if m.AddScanFunc == nil {
		return m.Facade.AddScan(ctx, timeout, scan)
	}
	return m.AddScanFunc(ctx, timeout, scan)
}

// Position calls the injected PositionFunc or the real version.
func (m *Mock) Position(ctx context.Context, timeout time.Duration) (geometry.Pose, error) {
	if m.PositionFunc == nil {
		return m.Facade.Position(ctx, timeout)
	}
	return m.PositionFunc(ctx, timeout)
}

// PointCloudMap calls the injected PointCloudMapFunc or the real version.
func (m *Mock) PointCloudMap(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if m.PointCloudMapFunc == nil {
		return m.Facade.PointCloudMap(ctx, timeout)
	}
	return m.PointCloudMapFunc(ctx, timeout)
}

// InternalState calls the injected InternalStateFunc or the real version.
func (m *Mock) InternalState(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if m.InternalStateFunc == nil {
		return m.Facade.InternalState(ctx, timeout)
	}
	return m.InternalStateFunc(ctx, timeout)
}

// RunFinalOptimization calls the injected RunFinalOptimizationFunc or the real version.
func (m *Mock) RunFinalOptimization(ctx context.Context, timeout time.Duration) error {
	if m.RunFinalOptimizationFunc == nil {
		return m.Facade.RunFinalOptimization(ctx, timeout)
	}
	return m.RunFinalOptimizationFunc(ctx, timeout)
}

// Diagnostics calls the injected DiagnosticsFunc or the real version.
func (m *Mock) Diagnostics(ctx context.Context, timeout time.Duration) (frontend.Diagnostics, error) {
	if m.DiagnosticsFunc == nil {
		return m.Facade.Diagnostics(ctx, timeout)
	}
	return m.DiagnosticsFunc(ctx, timeout)
}
