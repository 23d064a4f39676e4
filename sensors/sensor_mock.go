package sensors

import (
	"context"
)

// TimedLidarMock represents a fake TimedLidar.
type TimedLidarMock struct {
	NameValue             string
	DataFrequencyHzValue  int
	TimedLidarReadingFunc func(ctx context.Context) (TimedLidarReadingResponse, error)
}

// Name returns NameValue.
func (tlm *TimedLidarMock) Name() string {
	return tlm.NameValue
}

// DataFrequencyHz returns DataFrequencyHzValue.
func (tlm *TimedLidarMock) DataFrequencyHz() int {
	return tlm.DataFrequencyHzValue
}

// TimedLidarReading returns a fake TimedLidarReadingResponse or an error
// panics if TimedLidarReadingFunc is nil.
func (tlm *TimedLidarMock) TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error) {
	return tlm.TimedLidarReadingFunc(ctx)
}

// TimedOdometerMock represents a fake TimedOdometer.
type TimedOdometerMock struct {
	NameValue                string
	DataFrequencyHzValue     int
	TimedOdometerReadingFunc func(ctx context.Context) (TimedOdometerReadingResponse, error)
}

// Name returns NameValue.
func (tom *TimedOdometerMock) Name() string {
	return tom.NameValue
}

// DataFrequencyHz returns DataFrequencyHzValue.
func (tom *TimedOdometerMock) DataFrequencyHz() int {
	return tom.DataFrequencyHzValue
}

// TimedOdometerReading returns a fake TimedOdometerReadingResponse or an error
// panics if TimedOdometerReadingFunc is nil.
func (tom *TimedOdometerMock) TimedOdometerReading(ctx context.Context) (TimedOdometerReadingResponse, error) {
	return tom.TimedOdometerReadingFunc(ctx)
}
