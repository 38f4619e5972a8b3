package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the ccdfit configuration file
// (~/.config/ccdfit/config.yaml).  Pointer fields distinguish "not set"
// from zero values.
type Config struct {

	// Device
	Workers  *int   `yaml:"workers"`
	MaxAlloc *int64 `yaml:"max_alloc"`

	// Fitting defaults
	Algorithm    string    `yaml:"algorithm"`
	Prior        string    `yaml:"prior"`
	Param        *float64  `yaml:"param"`
	InitialBound *float64  `yaml:"initial_bound"`
	MaxIter      *int      `yaml:"max_iter"`
	Tol          *float64  `yaml:"tol"`
	Folds        *int      `yaml:"folds"`
	Grid         []float64 `yaml:"grid"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ccdfit", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location
// if path is empty.  A missing default file gives a zero Config; a
// missing or malformed explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFitConfig applies config file defaults to the fit options whose
// flags were not explicitly set.
func applyFitConfig(c *cli.Command, cfg Config, o *fitOptions) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		o.workers = *cfg.Workers
	}
	if cfg.MaxAlloc != nil && !c.IsSet("max-alloc") {
		o.maxAlloc = *cfg.MaxAlloc
	}
	if cfg.Algorithm != "" && !c.IsSet("algorithm") {
		o.algorithm = cfg.Algorithm
	}
	if cfg.Prior != "" && !c.IsSet("prior") {
		o.prior = cfg.Prior
	}
	if cfg.Param != nil && !c.IsSet("param") {
		o.param = *cfg.Param
	}
	if cfg.InitialBound != nil && !c.IsSet("initial-bound") {
		o.initialBound = *cfg.InitialBound
	}
	if cfg.MaxIter != nil && !c.IsSet("max-iter") {
		o.maxIter = *cfg.MaxIter
	}
	if cfg.Tol != nil && !c.IsSet("tol") {
		o.tol = *cfg.Tol
	}
	if cfg.Folds != nil && !c.IsSet("folds") {
		o.folds = *cfg.Folds
	}
	if cfg.Grid != nil && !c.IsSet("grid") {
		o.grid = cfg.Grid
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		o.logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		o.logFormat = cfg.LogFormat
	}
}
