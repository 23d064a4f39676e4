package config

import (
	"strconv"

	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/frontend"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
	"github.com/viamrobotics/viam-laserslam/scanmatch"
	"github.com/viamrobotics/viam-laserslam/sensors"
)

// Strategy names accepted in config_params.
const (
	MapAll    = "all"
	MapGrid   = "grid"
	MapSubmap = "submap"

	RefPrevious = "previous"
	RefLocalMap = "local_map"

	AssocLinear = "linear"
	AssocGrid   = "grid"

	CostEuclidean   = "euclidean"
	CostPointToLine = "point_to_line"

	OptGradient   = "gradient"
	OptLineSearch = "line_search"

	LoopNone   = "none"
	LoopSubmap = "submap"

	// DefaultPreset is used when config_params has no preset.
	DefaultPreset = "I"
	DefaultAngleOffsetDeg = sensors.DefaultAngleOffsetDeg
	DefaultMinRange       = sensors.DefaultMinRange
	DefaultMaxRange       = sensors.DefaultMaxRange
)

// AlgoConfig selects and tunes the components of a mapping session.
type AlgoConfig struct {
	Preset       string
	MapStrategy  string
	RefScan      string
	Associator   string
	Cost         string
	Optimizer    string
	LoopDetector string
	MotionModel  string

	Resample        bool
	Classify        bool
	DegeneracyCheck bool

	ScoreThreshold      float64
	UsedPointsThreshold int
	KeyframeSkip        int
	SubmapTravel        float64
	LoopRadius          float64
	LoopScoreThreshold  float64
	SolverIterations    int
	NodeCapacity        int
	ArcCapacity         int
	MapCapacity         int

	AngleOffsetDeg float64
	MinRange       float64
	MaxRange       float64
	SkipScans      int
	OdometryOnly   bool

	LogLevel zapcore.Level
}

// RangeGate is the beam gate the parsed ranges and angle offset describe.
func (algoCfg AlgoConfig) RangeGate() sensors.RangeGate {
	return sensors.RangeGate{Min: algoCfg.MinRange, Max: algoCfg.MaxRange, AngleOffsetDeg: algoCfg.AngleOffsetDeg}
}

var defaultAlgoCfg = AlgoConfig{
	Preset:              DefaultPreset,
	MapStrategy:         MapSubmap,
	RefScan:             RefLocalMap,
	Associator:          AssocGrid,
	Cost:                CostPointToLine,
	Optimizer:           OptLineSearch,
	LoopDetector:        LoopSubmap,
	MotionModel:         covariance.MotionSimple,
	Resample:            true,
	Classify:            true,
	DegeneracyCheck:     true,
	ScoreThreshold:      scanmatch.DefaultScoreThreshold,
	UsedPointsThreshold: scanmatch.DefaultUsedThreshold,
	KeyframeSkip:        frontend.DefaultKeyframeSkip,
	SubmapTravel:        pointcloudmap.DefaultSubmapTravel,
	LoopRadius:          loopdetect.DefaultRadius,
	LoopScoreThreshold:  loopdetect.DefaultScoreThreshold,
	SolverIterations:    backend.DefaultIterations,
	NodeCapacity:        posegraph.DefaultCapacity,
	ArcCapacity:         posegraph.DefaultCapacity,
	MapCapacity:         pointcloudmap.DefaultCapacity,
	AngleOffsetDeg:      DefaultAngleOffsetDeg,
	MinRange:            DefaultMinRange,
	MaxRange:            DefaultMaxRange,
	LogLevel:            zapcore.InfoLevel,
}

type presetStrategies struct {
	mapStrategy, refScan, assoc, cost, opt, loop string
	resample, classify, dgcheck                  bool
}

var presets = map[string]presetStrategies{
	"A": {MapAll, RefPrevious, AssocLinear, CostEuclidean, OptGradient, LoopNone, false, false, false},
	"B": {MapGrid, RefLocalMap, AssocLinear, CostEuclidean, OptGradient, LoopNone, false, false, false},
	"C": {MapGrid, RefLocalMap, AssocLinear, CostEuclidean, OptLineSearch, LoopNone, false, false, false},
	"D": {MapGrid, RefLocalMap, AssocGrid, CostEuclidean, OptLineSearch, LoopNone, false, false, false},
	"E": {MapGrid, RefLocalMap, AssocGrid, CostEuclidean, OptLineSearch, LoopNone, true, false, false},
	"F": {MapGrid, RefLocalMap, AssocGrid, CostPointToLine, OptLineSearch, LoopNone, false, true, false},
	"G": {MapGrid, RefLocalMap, AssocGrid, CostPointToLine, OptLineSearch, LoopNone, true, true, false},
	"H": {MapSubmap, RefLocalMap, AssocGrid, CostPointToLine, OptLineSearch, LoopNone, true, true, true},
	"I": {MapSubmap, RefLocalMap, AssocGrid, CostPointToLine, OptLineSearch, LoopSubmap, true, true, true},
}

// Preset returns the default algorithm config with the strategies of the named preset.
func Preset(name string) (AlgoConfig, error) {
	p, ok := presets[name]
	if !ok {
		return AlgoConfig{}, newError("unknown preset " + strconv.Quote(name))
	}
	cfg := defaultAlgoCfg
	cfg.Preset = name
	cfg.MapStrategy = p.mapStrategy
	cfg.RefScan = p.refScan
	cfg.Associator = p.assoc
	cfg.Cost = p.cost
	cfg.Optimizer = p.opt
	cfg.LoopDetector = p.loop
	cfg.Resample = p.resample
	cfg.Classify = p.classify
	cfg.DegeneracyCheck = p.dgcheck
	return cfg, nil
}

// ParseAlgoConfig builds the algorithm config from config_params. The preset is applied first
// and the other keys override it.
func ParseAlgoConfig(configParams map[string]string, logger logging.Logger) (AlgoConfig, error) {
	name := configParams["preset"]
	if name == "" {
		name = DefaultPreset
	}
	algoCfg, err := Preset(name)
	if err != nil {
		return AlgoConfig{}, err
	}

	for k, val := range configParams {
		switch k {
		case "preset":
		case "mode":
			if val != "2d" {
				return algoCfg, newError("only mode 2d is supported, got " + strconv.Quote(val))
			}
		case "map_strategy":
			if err := oneOf(k, val, MapAll, MapGrid, MapSubmap); err != nil {
				return algoCfg, err
			}
			algoCfg.MapStrategy = val
		case "ref_scan":
			if err := oneOf(k, val, RefPrevious, RefLocalMap); err != nil {
				return algoCfg, err
			}
			algoCfg.RefScan = val
		case "associator":
			if err := oneOf(k, val, AssocLinear, AssocGrid); err != nil {
				return algoCfg, err
			}
			algoCfg.Associator = val
		case "cost":
			if err := oneOf(k, val, CostEuclidean, CostPointToLine); err != nil {
				return algoCfg, err
			}
			algoCfg.Cost = val
		case "optimizer":
			if err := oneOf(k, val, OptGradient, OptLineSearch); err != nil {
				return algoCfg, err
			}
			algoCfg.Optimizer = val
		case "loop_detector":
			if err := oneOf(k, val, LoopNone, LoopSubmap); err != nil {
				return algoCfg, err
			}
			algoCfg.LoopDetector = val
		case "motion_model":
			if err := oneOf(k, val, covariance.MotionSimple, covariance.MotionVelocity); err != nil {
				return algoCfg, err
			}
			algoCfg.MotionModel = val
		case "resample":
			algoCfg.Resample = val == "true"
		case "classify":
			algoCfg.Classify = val == "true"
		case "degeneracy_check":
			algoCfg.DegeneracyCheck = val == "true"
		case "odometry_only":
			algoCfg.OdometryOnly = val == "true"
		case "score_threshold":
			if algoCfg.ScoreThreshold, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "used_points_threshold":
			if algoCfg.UsedPointsThreshold, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "keyframe_skip":
			if algoCfg.KeyframeSkip, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
			if algoCfg.KeyframeSkip < 1 {
				return algoCfg, newError("keyframe_skip must be at least 1")
			}
		case "submap_travel":
			if algoCfg.SubmapTravel, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "loop_radius":
			if algoCfg.LoopRadius, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "loop_score_threshold":
			if algoCfg.LoopScoreThreshold, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "solver_iterations":
			if algoCfg.SolverIterations, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "node_capacity":
			if algoCfg.NodeCapacity, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "arc_capacity":
			if algoCfg.ArcCapacity, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "map_capacity":
			if algoCfg.MapCapacity, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "angle_offset_deg":
			if algoCfg.AngleOffsetDeg, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "min_range":
			if algoCfg.MinRange, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "max_range":
			if algoCfg.MaxRange, err = strconv.ParseFloat(val, 64); err != nil {
				return algoCfg, err
			}
		case "skip_scans":
			if algoCfg.SkipScans, err = strconv.Atoi(val); err != nil {
				return algoCfg, err
			}
		case "log_level":
			if algoCfg.LogLevel, err = zapcore.ParseLevel(val); err != nil {
				return algoCfg, err
			}
		default:
			logger.Warnf("unused config param: %s: %s", k, val)
		}
	}

	if algoCfg.MinRange >= algoCfg.MaxRange {
		return algoCfg, newError("min_range must be less than max_range")
	}
	return algoCfg, nil
}

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return newError("invalid value " + strconv.Quote(val) + " for " + key)
}
