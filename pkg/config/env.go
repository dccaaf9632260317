package config

import (
	"os"
	"strings"
)

// Deployment environments. Staging mirrors production's configuration
// requirements.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// GetEnv reads an environment variable, falling back to defaultValue
// when unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// RequireEnv reads an environment variable and panics when it is absent.
// Reserved for configuration the process cannot start without.
func RequireEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("required environment variable not set: " + key)
	}
	return value
}

// GetEnvironment returns the normalized deployment environment, defaulting
// to development.
func GetEnvironment() string {
	return strings.ToLower(GetEnv("FISIOFLOW_SERVER_ENVIRONMENT", EnvDevelopment))
}

func IsDevelopment() bool {
	return GetEnvironment() == EnvDevelopment
}

func IsProduction() bool {
	return GetEnvironment() == EnvProduction
}

// IsProductionLike reports whether the strict configuration checks apply.
func IsProductionLike() bool {
	env := GetEnvironment()
	return env == EnvStaging || env == EnvProduction
}
