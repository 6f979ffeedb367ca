package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalyzers_EndpointWithColons(t *testing.T) {
	seeds, err := ParseAnalyzers("a1:http://host-a:9001:0.7,a2:http://host-b:9002:0.3")
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	assert.Equal(t, "a1", seeds[0].ID)
	assert.Equal(t, "http://host-a:9001", seeds[0].Endpoint)
	assert.Equal(t, 0.7, seeds[0].Weight)

	assert.Equal(t, "a2", seeds[1].ID)
	assert.Equal(t, "http://host-b:9002", seeds[1].Endpoint)
	assert.Equal(t, 0.3, seeds[1].Weight)
}

func TestParseAnalyzers_Empty(t *testing.T) {
	seeds, err := ParseAnalyzers("")
	require.NoError(t, err)
	assert.Nil(t, seeds)
}

func TestParseAnalyzers_MalformedTripleRejected(t *testing.T) {
	_, err := ParseAnalyzers("a1:http://host:9001")
	assert.Error(t, err)

	_, err = ParseAnalyzers("a1:http://host:9001:notanumber")
	assert.Error(t, err)
}

func TestLoad_DefaultsMatchSpec(t *testing.T) {
	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags, v)
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10000, cfg.MaxQueueSize)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.ProcessingInterval)
	assert.Equal(t, 30000*time.Millisecond, cfg.HealthCheckInterval)
	assert.Equal(t, 5000*time.Millisecond, cfg.HealthCheckTimeout)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 3, cfg.SuccessThreshold)
	assert.False(t, cfg.RetryOnFailure)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "500")
	t.Setenv("HEALTH_CHECK_INTERVAL", "15000")

	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags, v)
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.MaxQueueSize)
	assert.Equal(t, 15000*time.Millisecond, cfg.HealthCheckInterval)
}

func TestLoad_AnalyzersFileTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analyzers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analyzers:
  - id: a1
    endpoint: http://a1:9001
    weight: 1
  - id: a2
    endpoint: http://a2:9002
    weight: 2
`), 0o600))

	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags, v)
	require.NoError(t, flags.Parse([]string{
		"--analyzers=ignored:http://ignored:1",
		"--analyzers-file=" + path,
	}))

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Len(t, cfg.Analyzers, 2)
	assert.Equal(t, "a1", cfg.Analyzers[0].ID)
	assert.Equal(t, 2.0, cfg.Analyzers[1].Weight)
}
