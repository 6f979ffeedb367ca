// Package config loads the gateway's operator-supplied settings from the
// exact environment variables spec §6 names, with viper layering in an
// optional config file and CLI flags for local development.
//
// The teacher's internal/config reads each variable by hand with
// os.Getenv + strconv and falls back to a default on any parse failure.
// Here the env-var plumbing moves onto viper (pack: mcpany-core) so a
// config file or flag can override the same keys without a second code
// path. Unlike the teacher, a numeric setting whose value does not parse
// is read as zero; Load does not substitute the default for it.
package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AnalyzerSeed is one operator-declared pool member, parsed from either
// the ANALYZERS env var or an ANALYZERS_FILE YAML document.
type AnalyzerSeed struct {
	ID       string  `yaml:"id"`
	Endpoint string  `yaml:"endpoint"`
	Weight   float64 `yaml:"weight"`
}

// Config holds the entire gateway configuration.
type Config struct {
	Port int

	MaxQueueSize       int
	BatchSize          int
	ProcessingInterval time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	FailureThreshold    int
	SuccessThreshold    int

	SendTimeout    time.Duration
	ShutdownGrace  time.Duration
	RetryOnFailure bool

	Analyzers []AnalyzerSeed
}

// BindFlags registers the flags cobra exposes on the gateway command.
// Every flag mirrors one of the env vars spec §6 names; viper resolves
// precedence as flag > env > file > default.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("port", 8080, "ingress HTTP port")
	flags.Int("max-queue-size", 10000, "bounded dispatch queue capacity")
	flags.Int("batch-size", 100, "max packets drained per worker tick")
	flags.Int("processing-interval-ms", 10, "worker wake interval when idle")
	flags.Int("health-check-interval-ms", 30000, "interval between prober ticks")
	flags.Int("health-check-timeout-ms", 5000, "per-probe timeout")
	flags.Int("failure-threshold", 3, "consecutive failures to mark an analyzer unhealthy")
	flags.Int("success-threshold", 3, "consecutive successes to mark an analyzer healthy")
	flags.Int("send-timeout-ms", 5000, "per-dispatch-send timeout")
	flags.Int("shutdown-grace-period-ms", 10000, "drain grace period on shutdown")
	flags.Bool("retry-on-failure", false, "re-route a failed message to another analyzer instead of dropping it")
	flags.String("analyzers", "", "comma-separated id:endpoint:weight triples")
	flags.String("analyzers-file", "", "path to a YAML analyzer pool definition, takes precedence over --analyzers")
	flags.String("config", "", "optional config file (yaml/json/toml) read by viper")

	_ = v.BindPFlags(flags)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// spec §6 names three env vars without the "_MS" suffix these flags
	// use internally; bind both spellings so PROCESSING_INTERVAL,
	// HEALTH_CHECK_INTERVAL and HEALTH_CHECK_TIMEOUT work exactly as
	// documented.
	_ = v.BindEnv("processing-interval-ms", "PROCESSING_INTERVAL")
	_ = v.BindEnv("health-check-interval-ms", "HEALTH_CHECK_INTERVAL")
	_ = v.BindEnv("health-check-timeout-ms", "HEALTH_CHECK_TIMEOUT")
}

// Load resolves a Config from viper's merged flag/env/file state.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "config: reading --config file")
		}
	}

	cfg := &Config{
		Port:                v.GetInt("port"),
		MaxQueueSize:        v.GetInt("max-queue-size"),
		BatchSize:           v.GetInt("batch-size"),
		ProcessingInterval:  time.Duration(v.GetInt("processing-interval-ms")) * time.Millisecond,
		HealthCheckInterval: time.Duration(v.GetInt("health-check-interval-ms")) * time.Millisecond,
		HealthCheckTimeout:  time.Duration(v.GetInt("health-check-timeout-ms")) * time.Millisecond,
		FailureThreshold:    v.GetInt("failure-threshold"),
		SuccessThreshold:    v.GetInt("success-threshold"),
		SendTimeout:         time.Duration(v.GetInt("send-timeout-ms")) * time.Millisecond,
		ShutdownGrace:       time.Duration(v.GetInt("shutdown-grace-period-ms")) * time.Millisecond,
		RetryOnFailure:      v.GetBool("retry-on-failure"),
	}

	analyzersFile := v.GetString("analyzers-file")
	if analyzersFile != "" {
		seeds, err := loadAnalyzersFile(analyzersFile)
		if err != nil {
			return nil, err
		}
		cfg.Analyzers = seeds
	} else {
		seeds, err := ParseAnalyzers(v.GetString("analyzers"))
		if err != nil {
			return nil, err
		}
		cfg.Analyzers = seeds
	}

	return cfg, nil
}

// ParseAnalyzers parses the ANALYZERS env var: comma-separated
// "id:endpoint:weight" triples where endpoint may itself contain colons
// (the last colon separates the weight, per spec §6).
func ParseAnalyzers(raw string) ([]AnalyzerSeed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var seeds []AnalyzerSeed
	for _, triple := range strings.Split(raw, ",") {
		triple = strings.TrimSpace(triple)
		if triple == "" {
			continue
		}

		lastColon := strings.LastIndex(triple, ":")
		if lastColon <= 0 || lastColon == len(triple)-1 {
			return nil, errors.Errorf("config: malformed analyzer triple %q", triple)
		}
		weightStr := triple[lastColon+1:]
		rest := triple[:lastColon]

		firstColon := strings.Index(rest, ":")
		if firstColon <= 0 {
			return nil, errors.Errorf("config: malformed analyzer triple %q", triple)
		}
		id := rest[:firstColon]
		endpoint := rest[firstColon+1:]
		if u, err := url.Parse(endpoint); err != nil || !u.IsAbs() || u.Host == "" {
			return nil, errors.Errorf("config: malformed analyzer triple %q", triple)
		}

		weight, err := strconv.ParseFloat(weightStr, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "config: invalid weight in %q", triple)
		}

		seeds = append(seeds, AnalyzerSeed{ID: id, Endpoint: endpoint, Weight: weight})
	}
	return seeds, nil
}

func loadAnalyzersFile(path string) ([]AnalyzerSeed, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading analyzers file %q", path)
	}

	var doc struct {
		Analyzers []AnalyzerSeed `yaml:"analyzers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "config: parsing analyzers file %q", path)
	}
	return doc.Analyzers, nil
}
