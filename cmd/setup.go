package cmd

import (
	"github.com/isometry/groupsync/internal/classification"
	"github.com/isometry/groupsync/internal/config"
	"github.com/isometry/groupsync/internal/logging"
)

// loadSpecs reads the environment and applies the persistent flags on top.
func loadSpecs(flags *globalFlags) (*config.EnvSpec, error) {
	specs, err := config.Load(flags.envFile)
	if err != nil {
		return nil, withExitCode(ExitFatal, err)
	}

	if flags.logLevel != "" {
		specs.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		specs.LogFormat = flags.logFormat
	}
	if flags.logFile != "" {
		specs.LogFile = flags.logFile
	}

	return specs, nil
}

func (d *deps) buildLogger(specs *config.EnvSpec) (logging.Logger, error) {
	logger, err := d.newLogger(logging.Config{
		Level:  specs.LogLevel,
		Format: specs.LogFormat,
		File:   specs.LogFile,
	})
	if err != nil {
		return nil, withExitCode(ExitFatal, err)
	}
	return logger, nil
}

// loadRegistry returns the classification table from path, or the built-in
// table when path is empty.
func loadRegistry(path string) (*classification.Registry, error) {
	if path == "" {
		return classification.Default(), nil
	}
	registry, err := classification.Load(path)
	if err != nil {
		return nil, withExitCode(ExitFatal, err)
	}
	return registry, nil
}

// syncLogger flushes buffered entries when the logger supports it.
func syncLogger(logger logging.Logger) {
	if s, ok := logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}
