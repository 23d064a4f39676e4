// Package slamfacade serializes every call into a mapping session through a single goroutine.
package slamfacade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-laserslam/dataprocess"
	"github.com/viamrobotics/viam-laserslam/frontend"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
)

var (
	// ErrUnableToAcquireLock is returned by AddScan when the session is busy with another request.
	ErrUnableToAcquireLock = errors.New("unable to acquire lock on slam session")
	// ErrSessionClosed is returned once the session goroutine has exited.
	ErrSessionClosed = errors.New("slam session is closed")
)

// RequestType describes the action a request asks of the session.
type RequestType int64

const (
	start RequestType = iota
	addScan
	position
	pointCloudMap
	internalState
	runFinalOptimization
	diagnostics
)

// Request is one unit of work for the session goroutine.
type Request struct {
	responseChan chan Response
	requestType  RequestType
	scan         geometry.Scan
}

// Response is the result of a Request.
type Response struct {
	result interface{}
	err    error
}

// Interface is the facade API. Every call gives up after timeout.
type Interface interface {
	Start(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error
	AddScan(ctx context.Context, timeout time.Duration, scan geometry.Scan) error
	Position(ctx context.Context, timeout time.Duration) (geometry.Pose, error)
	PointCloudMap(ctx context.Context, timeout time.Duration) ([]byte, error)
	InternalState(ctx context.Context, timeout time.Duration) ([]byte, error)
	RunFinalOptimization(ctx context.Context, timeout time.Duration) error
	Diagnostics(ctx context.Context, timeout time.Duration) (frontend.Diagnostics, error)
}

/*
Facade owns a mapping session. The session is not safe for concurrent use, so every call is handed
to one goroutine over requestChan and answered on a per request channel.
*/
type Facade struct {
	ID uuid.UUID

	session     Session
	logger      logging.Logger
	requestChan chan Request
	done        chan struct{}
	startOnce   sync.Once
}

// New returns a facade over session. Start must be called before any other request.
func New(session Session, logger logging.Logger) *Facade {
	return &Facade{
		ID:          uuid.New(),
		session:     session,
		logger:      logger,
		requestChan: make(chan Request),
		done:        make(chan struct{}),
	}
}

// State is the serialized internal state of a session.
type State struct {
	SessionID   string                       `json:"session_id"`
	Poses       []dataprocess.TrajectoryPose `json:"poses"`
	Arcs        []ArcState                   `json:"arcs"`
	LoopMatches []loopdetect.LoopMatch       `json:"loop_matches"`
	Diagnostics frontend.Diagnostics         `json:"diagnostics"`
}

// ArcState is a serialized pose graph arc. Th is in degrees.
type ArcState struct {
	Src int     `json:"src"`
	Dst int     `json:"dst"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Th  float64 `json:"th"`
}

// Start launches the session goroutine. It stops when ctx is cancelled.
func (f *Facade) Start(ctx context.Context, timeout time.Duration, activeBackgroundWorkers *sync.WaitGroup) error {
	f.startOnce.Do(func() {
		f.startWorker(ctx, activeBackgroundWorkers)
	})
	_, err := f.request(ctx, start, geometry.Scan{}, timeout)
	return err
}

// AddScan hands scan to the session. It returns ErrUnableToAcquireLock without waiting when the
// session is busy.
func (f *Facade) AddScan(ctx context.Context, timeout time.Duration, scan geometry.Scan) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamfacade::AddScan")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := Request{responseChan: make(chan Response, 1), requestType: addScan, scan: scan}
	select {
	case <-f.done:
		return ErrSessionClosed
	default:
	}
	select {
	case f.requestChan <- req:
	default:
		return ErrUnableToAcquireLock
	}
	_, err := f.await(ctx, req)
	return err
}

// Position returns the latest pose estimate.
func (f *Facade) Position(ctx context.Context, timeout time.Duration) (geometry.Pose, error) {
	untyped, err := f.request(ctx, position, geometry.Scan{}, timeout)
	if err != nil {
		return geometry.Pose{}, err
	}

	pose, ok := untyped.(geometry.Pose)
	if !ok {
		return geometry.Pose{}, errors.New("unable to cast response from slam session to a pose")
	}
	return pose, nil
}

// PointCloudMap returns the global map as a binary PCD.
func (f *Facade) PointCloudMap(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamfacade::PointCloudMap")
	defer span.End()

	untyped, err := f.request(ctx, pointCloudMap, geometry.Scan{}, timeout)
	if err != nil {
		return nil, err
	}

	points, ok := untyped.([]geometry.Point)
	if !ok {
		return nil, errors.New("unable to cast response from slam session to a point slice")
	}
	return dataprocess.MapToPCD(points)
}

// InternalState returns the trajectory, arcs, loop matches and diagnostics as JSON.
func (f *Facade) InternalState(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamfacade::InternalState")
	defer span.End()

	untyped, err := f.request(ctx, internalState, geometry.Scan{}, timeout)
	if err != nil {
		return nil, err
	}

	state, ok := untyped.(State)
	if !ok {
		return nil, errors.New("unable to cast response from slam session to a state struct")
	}
	return json.Marshal(state)
}

// RunFinalOptimization adjusts the whole pose graph and rebuilds the map.
func (f *Facade) RunFinalOptimization(ctx context.Context, timeout time.Duration) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::slamfacade::RunFinalOptimization")
	defer span.End()

	_, err := f.request(ctx, runFinalOptimization, geometry.Scan{}, timeout)
	return err
}

// Diagnostics returns the session diagnostics after the last scan.
func (f *Facade) Diagnostics(ctx context.Context, timeout time.Duration) (frontend.Diagnostics, error) {
	untyped, err := f.request(ctx, diagnostics, geometry.Scan{}, timeout)
	if err != nil {
		return frontend.Diagnostics{}, err
	}

	d, ok := untyped.(frontend.Diagnostics)
	if !ok {
		return frontend.Diagnostics{}, errors.New("unable to cast response from slam session to diagnostics")
	}
	return d, nil
}

func (r *Request) doWork(ctx context.Context, f *Facade) (interface{}, error) {
	switch r.requestType {
	case start:
		f.logger.Debugw("slam session started", "session", f.ID.String())
		return nil, nil
	case addScan:
		return nil, f.session.Process(ctx, r.scan)
	case position:
		return f.session.LastPose(), nil
	case pointCloudMap:
		return f.session.GlobalMap(), nil
	case internalState:
		return f.state(), nil
	case runFinalOptimization:
		return nil, f.session.FinalOptimization(ctx)
	case diagnostics:
		return f.session.Diagnostics(), nil
	}
	return nil, fmt.Errorf("no worktype found for: %v", r.requestType)
}

func (f *Facade) state() State {
	arcs := f.session.Arcs()
	state := State{
		SessionID:   f.ID.String(),
		Poses:       dataprocess.Trajectory(f.session.Poses()),
		Arcs:        make([]ArcState, len(arcs)),
		LoopMatches: f.session.LoopMatches(),
		Diagnostics: f.session.Diagnostics(),
	}
	for i, a := range arcs {
		state.Arcs[i] = ArcState{Src: a.Src, Dst: a.Dst, X: a.Rel.Tx, Y: a.Rel.Ty, Th: a.Rel.Th()}
	}
	return state
}

func (f *Facade) request(
	ctxParent context.Context,
	requestType RequestType,
	scan geometry.Scan,
	timeout time.Duration,
) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctxParent, timeout)
	defer cancel()

	req := Request{
		responseChan: make(chan Response, 1),
		requestType:  requestType,
		scan:         scan,
	}

	select {
	case f.requestChan <- req:
		return f.await(ctx, req)
	case <-f.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		msg := "timeout writing to slam session"
		return nil, multierr.Combine(errors.New(msg), ctx.Err())
	}
}

func (f *Facade) await(ctx context.Context, req Request) (interface{}, error) {
	select {
	case response := <-req.responseChan:
		return response.result, response.err
	case <-ctx.Done():
		msg := "timeout reading from slam session"
		return nil, multierr.Combine(errors.New(msg), ctx.Err())
	}
}

func (f *Facade) startWorker(ctx context.Context, activeBackgroundWorkers *sync.WaitGroup) {
	activeBackgroundWorkers.Add(1)
	go func() {
		defer activeBackgroundWorkers.Done()
		defer close(f.done)

		for {
			select {
			case <-ctx.Done():
				return
			case workToDo := <-f.requestChan:
				result, err := workToDo.doWork(ctx, f)
				workToDo.responseChan <- Response{result: result, err: err}
			}
		}
	}()
}
