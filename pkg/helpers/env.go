// Package helpers provides small utilities shared by the configuration and
// wiring code.
package helpers

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetStringFromEnv returns the value of key, or defaultValue when it is unset or empty.
//
// Example:
//
//	addr := helpers.GetStringFromEnv("SMARTCHAT_ADDR", ":8080")
func GetStringFromEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntFromEnv returns key parsed as an int, or defaultValue when unset or invalid.
func GetIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloatFromEnv returns key parsed as a float64, or defaultValue when unset or invalid.
//
// Example:
//
//	rate := helpers.GetFloatFromEnv("SMARTCHAT_AB_RATE", 0.1)
func GetFloatFromEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetBoolFromEnv returns key parsed with strconv.ParseBool, or defaultValue.
func GetBoolFromEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDurationFromEnv returns key parsed with time.ParseDuration, or defaultValue.
func GetDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetStringSliceFromEnv splits a comma separated value, trimming blanks.
// Returns defaultValue when the variable is unset or holds no items.
func GetStringSliceFromEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
