// Package env resolves command line settings from cobra flags with an
// environment fallback.
package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/telemetry"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

const Prefix = "EXCHANGE_"

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// DurationFlagOrEnv is FlagOrEnv for durations. Values accept day and week
// units, e.g. "1w2d".
func DurationFlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue time.Duration) (time.Duration, error) {
	val := FlagOrEnv(cmd, flagName, envName, "")
	if val == "" {
		return defaultValue, nil
	}
	d, err := str2duration.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for --%s: %w", flagName, err)
	}
	return d, nil
}

// LogLevel reads --log-level, then EXCHANGE_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"))
}

// NewLogger returns a console logger, or a JSON logger when --log-format or
// EXCHANGE_LOG_FORMAT is "json".
func NewLogger(cmd *cobra.Command) logger.Logger {
	level := LogLevel(cmd)
	if FlagOrEnv(cmd, "log-format", Prefix+"LOG_FORMAT", "console") == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// NewTelemetry returns a telemetry context, logger, shutdown function. The cobra flags it expects are:
//
// --otlp-url (string): the url of the otlp server; telemetry is off when empty
//
// --otlp-shared-secret (string): the shared secret for the otlp server
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (context.Context, logger.Logger, func(), error) {
	log := NewLogger(cmd)
	otlpURL := FlagOrEnv(cmd, "otlp-url", Prefix+"OTLP_URL", "")
	if otlpURL == "" {
		return ctx, log, func() {}, nil
	}
	otlpSharedSecret := FlagOrEnv(cmd, "otlp-shared-secret", Prefix+"OTLP_SHARED_SECRET", "")

	telemetryCtx, logger, shutdown, err := telemetry.New(ctx, serviceName, otlpSharedSecret, otlpURL, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating telemetry: %w", err)
	}
	return telemetryCtx, logger, shutdown, nil
}
