package log

import (
	"os"
	"strings"
	"sync"

	scierrors "github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrAttrKey is the field an error passed to Logger.Error is logged under.
const ErrAttrKey = "error"

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo, "json")
)

// SetupLogger configures the global provider and routes library warnings
// (errors.Warn) through it.
func SetupLogger(loglevel, format string) error {
	level, err := ToLogLevel(loglevel)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	SetProvider(NewZerologProvider(os.Stderr, level, format))
	return nil
}

// ToLogLevel parses a level name.
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, scierrors.NewValidationError("log_level", "must be one of debug, info, warn, error", level)
	}
}

// SetProvider replaces the global provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	provider = p
	providerMu.Unlock()

	warnLogger := p.GetLoggerWithName("warnings")
	scierrors.SetZerologWarnFunc(func(w error) {
		warnLogger.Warn(w.Error(), ErrorTypeKey, warningType(w))
	})
}

// GetLogger returns the global default logger.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a global logger tagged with the component name.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

func warningType(w error) string {
	var cw *scierrors.ConvergenceWarning
	var uw *scierrors.UndefinedMetricWarning
	switch {
	case scierrors.As(w, &cw):
		return "ConvergenceWarning"
	case scierrors.As(w, &uw):
		return "UndefinedMetricWarning"
	default:
		return "Warning"
	}
}
