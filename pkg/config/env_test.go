package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("FISIOFLOW_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("FISIOFLOW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("FISIOFLOW_TEST_MISSING", "fallback"))
}

func TestRequireEnv(t *testing.T) {
	t.Setenv("FISIOFLOW_TEST_REQUIRED", "present")
	assert.Equal(t, "present", RequireEnv("FISIOFLOW_TEST_REQUIRED"))

	assert.Panics(t, func() {
		RequireEnv("FISIOFLOW_TEST_DEFINITELY_MISSING")
	})
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("FISIOFLOW_SERVER_ENVIRONMENT", "")
	assert.Equal(t, EnvDevelopment, GetEnvironment())

	t.Setenv("FISIOFLOW_SERVER_ENVIRONMENT", "Production")
	assert.Equal(t, EnvProduction, GetEnvironment())
}

func TestEnvironmentPredicates(t *testing.T) {
	t.Setenv("FISIOFLOW_SERVER_ENVIRONMENT", "staging")
	assert.False(t, IsDevelopment())
	assert.False(t, IsProduction())
	assert.True(t, IsProductionLike())

	t.Setenv("FISIOFLOW_SERVER_ENVIRONMENT", "development")
	assert.True(t, IsDevelopment())
	assert.False(t, IsProductionLike())
}
