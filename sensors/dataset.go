package sensors

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	laserScanLabel = "LASERSCAN"
	maxLineBytes   = 16 * 1024 * 1024
)

// DatasetReader replays a LASERSCAN text dataset. Each scan line is
//
//	LASERSCAN id sec nsec n angle_1 range_1 ... angle_n range_n x y th
//
// with beam angles in degrees and the odometry heading th in radians. Lines with any other label,
// such as ODOMETRY, are skipped. Scans are numbered from zero in the order they are returned.
type DatasetReader struct {
	name            string
	dataFrequencyHz int
	Gate            RangeGate
	SkipScans       int

	mu      sync.Mutex
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
	cnt     int
	skipped bool
}

// NewDatasetReader opens the dataset at path.
func NewDatasetReader(path string, gate RangeGate, skipScans int) (*DatasetReader, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening dataset %v", path)
	}
	r := NewDatasetReaderFrom(path, f, gate, skipScans)
	r.closer = f
	return r, nil
}

// NewDatasetReaderFrom reads a dataset from r.
func NewDatasetReaderFrom(name string, r io.Reader, gate RangeGate, skipScans int) *DatasetReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &DatasetReader{name: name, Gate: gate, SkipScans: skipScans, scanner: scanner}
}

// Name returns the dataset path.
func (d *DatasetReader) Name() string {
	return d.name
}

// DataFrequencyHz is zero; a dataset is read as fast as it is consumed.
func (d *DatasetReader) DataFrequencyHz() int {
	return d.dataFrequencyHz
}

// Close releases the underlying file.
func (d *DatasetReader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// TimedLidarReading returns the next scan, or ErrEndOfDataset once the dataset is exhausted.
func (d *DatasetReader) TimedLidarReading(ctx context.Context) (TimedLidarReadingResponse, error) {
	_, span := trace.StartSpan(ctx, "viamlaserslam::sensors::DatasetReader::TimedLidarReading")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.skipped {
		d.skipped = true
		for range d.SkipScans {
			if _, err := d.next(); err != nil {
				return TimedLidarReadingResponse{}, err
			}
		}
		d.cnt = 0
	}
	return d.next()
}

func (d *DatasetReader) next() (TimedLidarReadingResponse, error) {
	for d.scanner.Scan() {
		d.line++
		fields := strings.Fields(d.scanner.Text())
		if len(fields) == 0 || fields[0] != laserScanLabel {
			continue
		}
		resp, err := d.parseLaserScan(fields[1:])
		if err != nil {
			return TimedLidarReadingResponse{}, errors.Wrapf(err, "%v line %d", d.name, d.line)
		}
		d.cnt++
		return resp, nil
	}
	if err := d.scanner.Err(); err != nil {
		return TimedLidarReadingResponse{}, errors.Wrapf(err, "error reading %v", d.name)
	}
	return TimedLidarReadingResponse{}, ErrEndOfDataset
}

func (d *DatasetReader) parseLaserScan(fields []string) (TimedLidarReadingResponse, error) {
	if len(fields) < 4 {
		return TimedLidarReadingResponse{}, errors.New("truncated LASERSCAN header")
	}
	sec, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return TimedLidarReadingResponse{}, errors.Wrap(err, "bad seconds")
	}
	nsec, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return TimedLidarReadingResponse{}, errors.Wrap(err, "bad nanoseconds")
	}
	n, err := strconv.Atoi(fields[3])
	if err != nil || n < 0 {
		return TimedLidarReadingResponse{}, errors.Errorf("bad point count %q", fields[3])
	}

	vals := fields[4:]
	if len(vals) != 2*n+3 {
		return TimedLidarReadingResponse{}, errors.Errorf("expected %d values after the point count, got %d", 2*n+3, len(vals))
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		if nums[i], err = strconv.ParseFloat(v, 64); err != nil {
			return TimedLidarReadingResponse{}, errors.Wrapf(err, "bad value %q", v)
		}
	}

	scan := geometry.Scan{ID: d.cnt, Points: make([]geometry.Point, 0, n)}
	for i := range n {
		if p, ok := d.Gate.Point(d.cnt, nums[2*i], nums[2*i+1]); ok {
			scan.Points = append(scan.Points, p)
		}
	}
	odo := nums[2*n:]
	scan.Pose = geometry.NewPose(odo[0], odo[1], geometry.RadToDeg(odo[2]))

	return TimedLidarReadingResponse{
		Scan:           scan,
		ReadingTime:    time.Unix(sec, nsec).UTC(),
		IsReplaySensor: true,
	}, nil
}
