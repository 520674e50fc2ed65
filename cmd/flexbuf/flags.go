package main

import (
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/c360/flexbuf/errors"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// validateLogFlags rejects log settings the logger would silently ignore.
// Empty values defer to the configuration file.
func validateLogFlags(level, format string) error {
	if level != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, level) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cli", "validateFlags", "log level "+strconv.Quote(level))
	}
	if format != "" && !slices.Contains([]string{"json", "text"}, format) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cli", "validateFlags", "log format "+strconv.Quote(format))
	}
	return nil
}
