// Package config holds the run configuration of the stepwise pipeline.
//
// Values are resolved in three layers: built-in defaults, then STEPWISE_*
// environment variables (optionally read from a .env file), then command
// line flags. A flag set explicitly on the command line always wins.
package config

import (
	"os"
	"runtime"
	"strings"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to the upper-cased flag name to form the
// environment key, e.g. --inner-folds -> STEPWISE_INNER_FOLDS.
const EnvPrefix = "STEPWISE_"

// Config is the full run configuration.
type Config struct {
	Data      DataConfig
	Selection SelectionConfig
	Tuning    TuningConfig
	Log       LogConfig
	Output    OutputConfig

	// NJobs bounds concurrent fits. 1 is sequential, <= 0 means every CPU.
	NJobs int
	// RestrictToSelected feeds the BIC-selected predictors into the tuner.
	RestrictToSelected bool
}

// DataConfig describes the input table and the train/test split.
type DataConfig struct {
	Path     string
	Target   string
	TestSize float64
	Seed     uint64
	Stratify bool
}

// SelectionConfig configures the forward-BIC selector.
type SelectionConfig struct {
	// OnNonConvergence is "fail" or "infinite".
	OnNonConvergence  string
	InterceptBaseline bool
}

// TuningConfig configures the nested cross-validation of the lasso.
type TuningConfig struct {
	InnerFolds int
	OuterFolds int
	InnerSeed  uint64
	OuterSeed  uint64
	CMin       float64
	CMax       float64
	CNum       int
	MaxIter    int
	Tol        float64
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// OutputConfig lists the optional artifacts of a run.
type OutputConfig struct {
	PlotDir   string
	JSONPath  string
	SaveModel string
}

// Default returns the configuration of the reference screening analysis:
// a stratified 70/30 split with seed 42 and 5x5 nested CV over 15 values
// of C in [1e-3, 1e3].
func Default() *Config {
	return &Config{
		Data: DataConfig{
			TestSize: 0.3,
			Seed:     42,
			Stratify: true,
		},
		Selection: SelectionConfig{
			OnNonConvergence:  "fail",
			InterceptBaseline: true,
		},
		Tuning: TuningConfig{
			InnerFolds: 5,
			OuterFolds: 5,
			InnerSeed:  1,
			OuterSeed:  2,
			CMin:       1e-3,
			CMax:       1e3,
			CNum:       15,
			MaxIter:    2000,
			Tol:        1e-4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		NJobs: runtime.NumCPU(),
	}
}

// BindFlags registers one flag per field on fs, using the current values of
// c as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Data.Path, "data", c.Data.Path, "input table (.csv or .xlsx)")
	fs.StringVar(&c.Data.Target, "target", c.Data.Target, "outcome column name")
	fs.Float64Var(&c.Data.TestSize, "test-size", c.Data.TestSize, "fraction of rows held out for testing")
	fs.Uint64Var(&c.Data.Seed, "seed", c.Data.Seed, "train/test split seed")
	fs.BoolVar(&c.Data.Stratify, "stratify", c.Data.Stratify, "stratify the train/test split by class")

	fs.StringVar(&c.Selection.OnNonConvergence, "on-nonconvergence", c.Selection.OnNonConvergence, "failed candidate fits: fail|infinite")
	fs.BoolVar(&c.Selection.InterceptBaseline, "intercept-baseline", c.Selection.InterceptBaseline, "require the first predictor to beat the intercept-only BIC")

	fs.IntVar(&c.Tuning.InnerFolds, "inner-folds", c.Tuning.InnerFolds, "inner CV folds")
	fs.IntVar(&c.Tuning.OuterFolds, "outer-folds", c.Tuning.OuterFolds, "outer CV folds")
	fs.Uint64Var(&c.Tuning.InnerSeed, "inner-seed", c.Tuning.InnerSeed, "inner KFold shuffle seed")
	fs.Uint64Var(&c.Tuning.OuterSeed, "outer-seed", c.Tuning.OuterSeed, "outer KFold shuffle seed")
	fs.Float64Var(&c.Tuning.CMin, "c-min", c.Tuning.CMin, "smallest C in the grid")
	fs.Float64Var(&c.Tuning.CMax, "c-max", c.Tuning.CMax, "largest C in the grid")
	fs.IntVar(&c.Tuning.CNum, "c-num", c.Tuning.CNum, "number of log-spaced C values")
	fs.IntVar(&c.Tuning.MaxIter, "max-iter", c.Tuning.MaxIter, "solver iteration limit")
	fs.Float64Var(&c.Tuning.Tol, "tol", c.Tuning.Tol, "solver tolerance")

	fs.IntVar(&c.NJobs, "n-jobs", c.NJobs, "concurrent fits (1 = sequential, 0 = all CPUs)")
	fs.BoolVar(&c.RestrictToSelected, "restrict-to-selected", c.RestrictToSelected, "tune on the BIC-selected predictors only")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "debug|info|warn|error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "json|console")

	fs.StringVar(&c.Output.PlotDir, "plot-dir", c.Output.PlotDir, "write PNG plots to this directory")
	fs.StringVar(&c.Output.JSONPath, "json", c.Output.JSONPath, "write a JSON report to this file")
	fs.StringVar(&c.Output.SaveModel, "save-model", c.Output.SaveModel, "save the tuned pipeline to this file")
}

// ApplyEnv loads envFile (when not empty) into the process environment and
// then sets every flag of fs that was not given on the command line from
// its STEPWISE_* variable. Existing environment variables take precedence
// over the file.
func ApplyEnv(fs *pflag.FlagSet, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return errors.Wrapf(err, "load env file %s", envFile)
		}
	}

	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed {
			return
		}
		value, ok := os.LookupEnv(EnvKey(f.Name))
		if !ok {
			return
		}
		if err := f.Value.Set(value); err != nil {
			firstErr = errors.NewValidationError(EnvKey(f.Name), err.Error(), value)
		}
	})
	return firstErr
}

// EnvKey returns the environment variable for a flag name.
func EnvKey(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Load returns the defaults overridden by the environment and envFile.
func Load(envFile string) (*Config, error) {
	cfg := Default()
	fs := pflag.NewFlagSet("stepwise", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := ApplyEnv(fs, envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It does not require Data.Path, which only
// the command line needs.
func (c *Config) Validate() error {
	switch {
	case !(c.Data.TestSize > 0 && c.Data.TestSize < 1):
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.Data.TestSize)
	case c.Tuning.InnerFolds < 2:
		return errors.NewValidationError("inner_folds", "must be at least 2", c.Tuning.InnerFolds)
	case c.Tuning.OuterFolds < 2:
		return errors.NewValidationError("outer_folds", "must be at least 2", c.Tuning.OuterFolds)
	case !(c.Tuning.CMin > 0):
		return errors.NewValidationError("c_min", "must be positive", c.Tuning.CMin)
	case !(c.Tuning.CMax >= c.Tuning.CMin):
		return errors.NewValidationError("c_max", "must be at least c_min", c.Tuning.CMax)
	case c.Tuning.CNum < 1:
		return errors.NewValidationError("c_num", "must be positive", c.Tuning.CNum)
	case c.Tuning.MaxIter < 1:
		return errors.NewValidationError("max_iter", "must be positive", c.Tuning.MaxIter)
	case !(c.Tuning.Tol > 0):
		return errors.NewValidationError("tol", "must be positive", c.Tuning.Tol)
	}
	switch c.Selection.OnNonConvergence {
	case "fail", "infinite":
	default:
		return errors.NewValidationError("on_nonconvergence", "must be fail or infinite", c.Selection.OnNonConvergence)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.NewValidationError("log_format", "must be json or console", c.Log.Format)
	}
	return nil
}
