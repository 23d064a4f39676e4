// Package telemetry sets up trace and stats reporting for SLAM runs.
package telemetry

import (
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils/perf"
)

// DefaultReportingInterval is how often stats are reported when no interval is given.
const DefaultReportingInterval = time.Second

// SetupTelemetry starts a development exporter that prints the viamlaserslam spans and stats.
// A non-positive interval uses DefaultReportingInterval.
func SetupTelemetry(interval time.Duration, logger logging.Logger) (perf.Exporter, error) {
	if interval <= 0 {
		interval = DefaultReportingInterval
	}
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: interval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}
	logger.Debugw("telemetry started", "reporting_interval", interval)
	return exporter, nil
}
