package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.3, cfg.Data.TestSize)
	assert.Equal(t, uint64(42), cfg.Data.Seed)
	assert.Equal(t, 15, cfg.Tuning.CNum)
	assert.Equal(t, uint64(1), cfg.Tuning.InnerSeed)
	assert.Equal(t, uint64(2), cfg.Tuning.OuterSeed)
	assert.True(t, cfg.Selection.InterceptBaseline)
	assert.False(t, cfg.RestrictToSelected)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "STEPWISE_INNER_FOLDS", EnvKey("inner-folds"))
	assert.Equal(t, "STEPWISE_DATA", EnvKey("data"))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STEPWISE_INNER_FOLDS", "3")
	t.Setenv("STEPWISE_C_MAX", "100")
	t.Setenv("STEPWISE_RESTRICT_TO_SELECTED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Tuning.InnerFolds)
	assert.Equal(t, 100.0, cfg.Tuning.CMax)
	assert.True(t, cfg.RestrictToSelected)
	assert.Equal(t, 5, cfg.Tuning.OuterFolds)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.env")
	content := "STEPWISE_TARGET=diagnosis\nSTEPWISE_ON_NONCONVERGENCE=infinite\nSTEPWISE_N_JOBS=2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	for _, key := range []string{"STEPWISE_TARGET", "STEPWISE_ON_NONCONVERGENCE", "STEPWISE_N_JOBS"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	// The process environment wins over the file.
	t.Setenv("STEPWISE_N_JOBS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "diagnosis", cfg.Data.Target)
	assert.Equal(t, "infinite", cfg.Selection.OnNonConvergence)
	assert.Equal(t, 6, cfg.NJobs)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("STEPWISE_OUTER_FOLDS", "4")
	t.Setenv("STEPWISE_TOL", "0.01")

	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--outer-folds", "10"}))
	require.NoError(t, ApplyEnv(fs, ""))

	assert.Equal(t, 10, cfg.Tuning.OuterFolds)
	assert.Equal(t, 0.01, cfg.Tuning.Tol)
}

func TestBadEnvironmentValue(t *testing.T) {
	t.Setenv("STEPWISE_C_NUM", "many")

	_, err := Load("")
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "STEPWISE_C_NUM", ve.ParamName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		param  string
	}{
		{"test size", func(c *Config) { c.Data.TestSize = 1 }, "test_size"},
		{"inner folds", func(c *Config) { c.Tuning.InnerFolds = 1 }, "inner_folds"},
		{"outer folds", func(c *Config) { c.Tuning.OuterFolds = 0 }, "outer_folds"},
		{"c min", func(c *Config) { c.Tuning.CMin = 0 }, "c_min"},
		{"c max", func(c *Config) { c.Tuning.CMax = 1e-4 }, "c_max"},
		{"c num", func(c *Config) { c.Tuning.CNum = 0 }, "c_num"},
		{"max iter", func(c *Config) { c.Tuning.MaxIter = 0 }, "max_iter"},
		{"tol", func(c *Config) { c.Tuning.Tol = -1 }, "tol"},
		{"policy", func(c *Config) { c.Selection.OnNonConvergence = "retry" }, "on_nonconvergence"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			var ve *errors.ValidationError
			require.True(t, errors.As(cfg.Validate(), &ve))
			assert.Equal(t, tt.param, ve.ParamName)
		})
	}
}
