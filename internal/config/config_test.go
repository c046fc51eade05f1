package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "fs", cfg.Definitions.Driver)
	assert.Equal(t, "./definitions", cfg.Definitions.FSRoot)
	assert.Equal(t, "us-east-1", cfg.Definitions.S3.Region)
	assert.Equal(t, "memory", cfg.ConfigDriver)
	assert.Equal(t, 500000, cfg.MaxCartesianProduct)
	assert.Equal(t, 24*time.Hour, cfg.QuotaCacheTTL)
	assert.Equal(t, "surveycore", cfg.MetricsNamespace)
	assert.Empty(t, cfg.RedisURL)
}

func TestFromMap_Overrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"SURVEYCORE_DEFINITIONS_DRIVER":        "s3",
		"SURVEYCORE_DEFINITIONS_S3_BUCKET":     "defs",
		"SURVEYCORE_DEFINITIONS_S3_PATH_STYLE": "true",
		"SURVEYCORE_CONFIG_DRIVER":             "postgres",
		"SURVEYCORE_POSTGRES_DSN":              "postgres://localhost/survey",
		"SURVEYCORE_MAX_CARTESIAN_PRODUCT":     "1000",
		"SURVEYCORE_QUOTA_CACHE_TTL":           "90m",
		"SURVEYCORE_REDIS_URL":                 "redis://localhost:6379/2",
	})
	require.NoError(t, err)
	assert.Equal(t, "defs", cfg.Definitions.S3.Bucket)
	assert.True(t, cfg.Definitions.S3.PathStyle)
	assert.Equal(t, 1000, cfg.MaxCartesianProduct)
	assert.Equal(t, 90*time.Minute, cfg.QuotaCacheTTL)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL)
}

func TestFromMap_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"s3 without bucket":     {"SURVEYCORE_DEFINITIONS_DRIVER": "s3"},
		"unknown definitions":   {"SURVEYCORE_DEFINITIONS_DRIVER": "ftp"},
		"postgres without dsn":  {"SURVEYCORE_CONFIG_DRIVER": "postgres"},
		"unknown config driver": {"SURVEYCORE_CONFIG_DRIVER": "mysql"},
		"non-positive cap":      {"SURVEYCORE_MAX_CARTESIAN_PRODUCT": "0"},
		"malformed cap":         {"SURVEYCORE_MAX_CARTESIAN_PRODUCT": "lots"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(vars)
			assert.Error(t, err)
		})
	}
}
