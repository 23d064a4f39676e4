// Package main is a module with a laser SLAM service model. Given a dataset it instead replays
// it offline and writes the resulting map and trajectory.
package main

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/utils"

	viamlaserslam "github.com/viamrobotics/viam-laserslam"
	vlConfig "github.com/viamrobotics/viam-laserslam/config"
	"github.com/viamrobotics/viam-laserslam/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

const jobDonePollInterval = 100 * time.Millisecond

// Arguments for the offline command.
type Arguments struct {
	Dataset   string `flag:"dataset,usage=LASERSCAN dataset to replay"`
	Out       string `flag:"out,usage=directory the map and trajectory are written to"`
	Preset    string `flag:"preset,usage=algorithm preset A through I"`
	Telemetry bool   `flag:"telemetry,usage=report traces and stats"`
	Debug     bool   `flag:"debug,usage=debug logging"`
}

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("laserslamModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow(viamlaserslam.Model.String(), versionFields...)
	} else {
		logger.Info(viamlaserslam.Model.String() + " built from source; version unknown")
	}

	if len(args) == 2 && strings.HasSuffix(args[1], "-version") {
		return nil
	}

	if len(args) > 1 && strings.HasPrefix(args[1], "-") {
		var argsParsed Arguments
		if err := utils.ParseFlags(args, &argsParsed); err != nil {
			return err
		}
		return runOffline(ctx, argsParsed, logger)
	}

	// Instantiate the module
	slamModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}

	// Add the laser slam model to the module
	if err = slamModule.AddModelFromRegistry(ctx, generic.API, viamlaserslam.Model); err != nil {
		return err
	}

	// Start the module
	err = slamModule.Start(ctx)
	defer slamModule.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func runOffline(ctx context.Context, argsParsed Arguments, logger logging.Logger) error {
	if argsParsed.Dataset == "" {
		return errors.New("a dataset is required")
	}

	if argsParsed.Telemetry {
		exporter, err := telemetry.SetupTelemetry(telemetry.DefaultReportingInterval, logger)
		if err != nil {
			return err
		}
		defer exporter.Stop()
	}

	configParams := map[string]string{"mode": "2d"}
	if argsParsed.Preset != "" {
		configParams["preset"] = argsParsed.Preset
	}
	if argsParsed.Debug {
		configParams["log_level"] = "debug"
	}
	cfg := vlConfig.Config{
		Dataset:      argsParsed.Dataset,
		MapOutputDir: argsParsed.Out,
		ConfigParams: configParams,
	}

	svc, err := viamlaserslam.New(ctx, cfg, viamlaserslam.Dependencies{}, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return svc.Close(context.Background()) })

	for {
		resp, err := svc.DoCommand(ctx, map[string]interface{}{"job_done": ""})
		if err != nil {
			return err
		}
		if done, ok := resp["job_done"].(bool); ok && done {
			break
		}
		if !utils.SelectContextOrWait(ctx, jobDonePollInterval) {
			return ctx.Err()
		}
	}

	resp, err := svc.DoCommand(ctx, map[string]interface{}{"diagnostics": ""})
	if err != nil {
		return err
	}
	logger.Infow("dataset replayed", "dataset", argsParsed.Dataset, "diagnostics", resp["diagnostics"])
	return nil
}
