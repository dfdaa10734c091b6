// Package platform reads environment-sourced configuration, adapted from
// Xray-core's common/platform package (lookup with typed fallback, no
// xray-specific asset paths).
package platform

import (
	"os"
	"strconv"
)

// EnvFlag is a named environment variable with a typed getter.
type EnvFlag struct {
	Name string
}

// NewEnvFlag builds an EnvFlag for the given variable name.
func NewEnvFlag(name string) EnvFlag {
	return EnvFlag{Name: name}
}

// GetValue returns the variable's value, or defaultValue() if unset.
func (f EnvFlag) GetValue(defaultValue func() string) string {
	if v, found := os.LookupEnv(f.Name); found {
		return v
	}
	return defaultValue()
}

// GetValueAsInt parses the variable as an int, warning the caller via the
// wasSetButInvalid return when it's set but unparsable so the caller can log and fall
// back, matching spec's "invalid values log a warning and fall back".
func (f EnvFlag) GetValueAsInt(defaultValue int) (value int, wasSetButInvalid bool) {
	raw, found := os.LookupEnv(f.Name)
	if !found || raw == "" {
		return defaultValue, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue, true
	}
	return v, false
}

const (
	APIHost      = "API_HOST"
	APIPort      = "API_PORT"
	APIAuthToken = "API_AUTH_TOKEN"
	EnvConfig    = "ENV_CONFIG"
)
