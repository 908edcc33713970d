// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"

	"github.com/mahaj/flakeid/pkg/nodeid"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

// Default node ids used when neither NODE_ID nor WORKER_CIDR/POD_IP is set,
// so that a local stack of one instance per service never collides.
var defaultNodeIDs = map[string]int64{
	"gateway":   1,
	"api":       2,
	"messaging": 3,
}

var defaultListenAddrs = map[string]string{
	"gateway": ":8080",
	"api":     ":8081",
}

type Config struct {
	Service    string
	ListenAddr string

	ScyllaHosts  []string
	Keyspace     string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret []byte

	LogLevel        string
	LogJSON         bool
	MetricsInterval time.Duration

	Snowflake Snowflake
}

type Snowflake struct {
	NodeID int64
	// NodeIDSource is "env", "pod-ip" or "default".
	NodeIDSource string
	Epoch        time.Time
	Layout       snowflake.Layout
	DriftPolicy  snowflake.DriftPolicy
	MaxDrift     time.Duration
	MaxWait      time.Duration
	// Monotonic selects snowflake.MonotonicClock over the wall clock.
	Monotonic bool
}

// Load reads the configuration for service from the process environment.
func Load(service string) (*Config, error) {
	return load(service, os.Getenv)
}

func load(service string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Service:      service,
		ListenAddr:   env("LISTEN_ADDR", defaultListenAddrs[service]),
		ScyllaHosts:  splitList(env("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:     env("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitList(env("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   env("KAFKA_TOPIC", "chat-messages"),
		KafkaGroupID: env("KAFKA_GROUP_ID", "messaging-service-group"),
		JWTSecret:    []byte(env("JWT_SECRET", "my_secret_key")),
		LogLevel:     env("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.LogJSON, err = parseBool("LOG_JSON", env("LOG_JSON", "false")); err != nil {
		return nil, err
	}
	if cfg.MetricsInterval, err = parseDuration("METRICS_INTERVAL", env("METRICS_INTERVAL", "10s")); err != nil {
		return nil, err
	}
	if cfg.Snowflake, err = loadSnowflake(service, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSnowflake(service string, env func(key, def string) string) (Snowflake, error) {
	sf := Snowflake{Layout: snowflake.DefaultLayout, Epoch: snowflake.DefaultEpoch}

	var err error
	if v := env("SNOWFLAKE_LAYOUT", ""); v != "" {
		if sf.Layout, err = snowflake.ParseLayout(v); err != nil {
			return sf, fmt.Errorf("SNOWFLAKE_LAYOUT: %w", err)
		}
	}
	if v := env("SNOWFLAKE_EPOCH", ""); v != "" {
		if sf.Epoch, err = time.Parse(time.RFC3339, v); err != nil {
			return sf, fmt.Errorf("SNOWFLAKE_EPOCH: %w", err)
		}
	}
	if sf.DriftPolicy, err = snowflake.ParseDriftPolicy(env("SNOWFLAKE_DRIFT_POLICY", "wait")); err != nil {
		return sf, fmt.Errorf("SNOWFLAKE_DRIFT_POLICY: %w", err)
	}
	if sf.MaxDrift, err = parseDuration("SNOWFLAKE_MAX_DRIFT", env("SNOWFLAKE_MAX_DRIFT", snowflake.DefaultMaxDrift.String())); err != nil {
		return sf, err
	}
	if sf.MaxWait, err = parseDuration("SNOWFLAKE_MAX_WAIT", env("SNOWFLAKE_MAX_WAIT", snowflake.DefaultMaxWait.String())); err != nil {
		return sf, err
	}
	switch clock := strings.ToLower(env("SNOWFLAKE_CLOCK", "wall")); clock {
	case "wall":
	case "monotonic":
		sf.Monotonic = true
	default:
		return sf, fmt.Errorf("SNOWFLAKE_CLOCK: %q, want wall or monotonic", clock)
	}

	maxNode := sf.Layout.MaxNode()
	cidr, podIP := env("WORKER_CIDR", ""), env("POD_IP", "")
	switch {
	case env("NODE_ID", "") != "":
		if sf.NodeID, err = nodeid.Parse(env("NODE_ID", ""), maxNode); err != nil {
			return sf, fmt.Errorf("NODE_ID: %w", err)
		}
		sf.NodeIDSource = "env"
	case cidr != "" || podIP != "":
		if sf.NodeID, err = nodeid.FromPrivateIP(cidr, podIP, maxNode); err != nil {
			return sf, fmt.Errorf("WORKER_CIDR/POD_IP: %w", err)
		}
		sf.NodeIDSource = "pod-ip"
	default:
		sf.NodeID = defaultNodeIDs[service]
		sf.NodeIDSource = "default"
	}
	return sf, nil
}

// Logger builds the service's root logger.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       c.Service,
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
		Output:     os.Stderr,
	})
}

// NewNode builds the service's ID generator.
func (c *Config) NewNode(logger hclog.Logger) (*snowflake.Node, error) {
	sf := c.Snowflake
	clock := snowflake.SystemClock
	if sf.Monotonic {
		clock = snowflake.MonotonicClock()
	}
	node, err := snowflake.NewNode(sf.NodeID,
		snowflake.WithEpoch(sf.Epoch),
		snowflake.WithLayout(sf.Layout),
		snowflake.WithClock(clock),
		snowflake.WithDriftPolicy(sf.DriftPolicy),
		snowflake.WithMaxDrift(sf.MaxDrift),
		snowflake.WithMaxWait(sf.MaxWait),
		snowflake.WithLogger(logger.Named("snowflake")),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("id generator ready",
		"node", sf.NodeID, "source", sf.NodeIDSource, "layout", sf.Layout.String(),
		"epoch", sf.Epoch.Format(time.RFC3339), "drift_policy", sf.DriftPolicy.String(),
		"lifespan_until", sf.Epoch.Add(sf.Layout.Lifespan()).Format(time.RFC3339))
	return node, nil
}

// SetupMetrics installs an in-memory sink as the global metrics sink. The
// sink is dumped to stderr on SIGUSR1.
func (c *Config) SetupMetrics() (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(c.MetricsInterval, 6*c.MetricsInterval)
	metrics.DefaultInmemSignal(sink)

	mcfg := metrics.DefaultConfig(c.Service)
	mcfg.EnableHostname = false
	if _, err := metrics.NewGlobal(mcfg, sink); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return sink, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
