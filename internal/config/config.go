// Package config loads the tracker's environment-driven configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
)

// CheckType selects how HealthProber probes a storage server.
type CheckType string

const (
	CheckTypeTCP  CheckType = "TCP"
	CheckTypeHTTP CheckType = "HTTP"
)

// Config is the configuration surface named in spec.md section 6.
type Config struct {
	// this tracker's own listen address for the control protocol.
	ListenAddr string

	// Peers is the full, statically configured tracker table, in
	// order. Ordinal position in this slice is the peer's identity.
	Peers []string

	// LocalAddrs identifies which addresses in Peers are "this"
	// tracker (spec.md section 6, "local address self-identification").
	LocalAddrs []string

	// HTTP liveness-probe configuration (spec.md section 4.2/6).
	HTTPCheckInterval time.Duration // <= 0 disables the prober
	HTTPCheckType     CheckType
	HTTPCheckURI      string

	ConnectTimeout time.Duration
	NetworkTimeout time.Duration

	// MetricsAddr is where Prometheus metrics are exposed.
	MetricsAddr string

	// GroupStorePath is where groupstore persists its JSON snapshot.
	GroupStorePath string
}

// Load reads configuration from the environment, applying the same
// defaults the control daemon ships with.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnv("TRACKERD_LISTEN_ADDR", ":22122"),
		MetricsAddr:       getEnv("TRACKERD_METRICS_ADDR", ":9109"),
		HTTPCheckInterval: getDurationEnv("TRACKERD_HTTP_CHECK_INTERVAL", 10*time.Second),
		HTTPCheckType:     CheckType(strings.ToUpper(getEnv("TRACKERD_HTTP_CHECK_TYPE", "TCP"))),
		HTTPCheckURI:      getEnv("TRACKERD_HTTP_CHECK_URI", "/status"),
		ConnectTimeout:    getDurationEnv("TRACKERD_CONNECT_TIMEOUT", 3*time.Second),
		NetworkTimeout:    getDurationEnv("TRACKERD_NETWORK_TIMEOUT", 5*time.Second),
		GroupStorePath:    getEnv("TRACKERD_GROUP_STORE_PATH", "groups.json"),
	}

	if peersStr := getEnv("TRACKERD_TRACKERS", ""); peersStr != "" {
		for _, p := range strings.Split(peersStr, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Peers = append(cfg.Peers, p)
			}
		}
	}

	if localStr := getEnv("TRACKERD_LOCAL_ADDRS", ""); localStr != "" {
		for _, a := range strings.Split(localStr, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				cfg.LocalAddrs = append(cfg.LocalAddrs, a)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromArgs reads configuration the same way Load does, but through
// kingpin flags bound to the same environment variables via Envar — so
// every setting keeps its env-var default while gaining a CLI override
// (spec.md section 4.9's "environment variables with kingpin-parsed
// flag overrides"). args is normally os.Args[1:].
func LoadFromArgs(args []string) (*Config, error) {
	app := kingpin.New("trackerd", "Storage liveness supervision and tracker leader election.")

	listenAddr := app.Flag("listen-addr", "Control-protocol listen address.").
		Envar("TRACKERD_LISTEN_ADDR").Default(":22122").String()
	metricsAddr := app.Flag("metrics-addr", "Prometheus metrics listen address.").
		Envar("TRACKERD_METRICS_ADDR").Default(":9109").String()
	httpCheckInterval := app.Flag("http-check-interval", "Liveness probe interval; <= 0 disables the prober.").
		Envar("TRACKERD_HTTP_CHECK_INTERVAL").Default("10s").Duration()
	httpCheckType := app.Flag("http-check-type", "Liveness probe type: TCP or HTTP.").
		Envar("TRACKERD_HTTP_CHECK_TYPE").Default("TCP").String()
	httpCheckURI := app.Flag("http-check-uri", "URI requested in HTTP probe mode.").
		Envar("TRACKERD_HTTP_CHECK_URI").Default("/status").String()
	connectTimeout := app.Flag("connect-timeout", "Bound on TCP connect attempts.").
		Envar("TRACKERD_CONNECT_TIMEOUT").Default("3s").Duration()
	networkTimeout := app.Flag("network-timeout", "Bound on a full request/reply round trip.").
		Envar("TRACKERD_NETWORK_TIMEOUT").Default("5s").Duration()
	groupStorePath := app.Flag("group-store-path", "Path for the groupstore JSON snapshot.").
		Envar("TRACKERD_GROUP_STORE_PATH").Default("groups.json").String()
	trackers := app.Flag("tracker", "Tracker table entry, host:port (repeatable).").
		Envar("TRACKERD_TRACKERS").Strings()
	localAddrs := app.Flag("local-addr", "Local address identifying this tracker (repeatable).").
		Envar("TRACKERD_LOCAL_ADDRS").Strings()

	if _, err := app.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg := &Config{
		ListenAddr:        *listenAddr,
		MetricsAddr:       *metricsAddr,
		HTTPCheckInterval: *httpCheckInterval,
		HTTPCheckType:     CheckType(strings.ToUpper(*httpCheckType)),
		HTTPCheckURI:      *httpCheckURI,
		ConnectTimeout:    *connectTimeout,
		NetworkTimeout:    *networkTimeout,
		GroupStorePath:    *groupStorePath,
		Peers:             splitCommaEnvar(*trackers),
		LocalAddrs:        splitCommaEnvar(*localAddrs),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitCommaEnvar expands kingpin Envar-sourced repeatable flags: when
// set via the CLI, each repetition is already its own slice element; when
// set via a single comma-separated environment variable, it arrives as
// one element that still needs splitting.
func splitCommaEnvar(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks invariants the core components rely on.
func (c *Config) Validate() error {
	if len(c.Peers) == 0 {
		return errors.New("TRACKERD_TRACKERS must list at least one tracker")
	}
	if c.HTTPCheckType != CheckTypeTCP && c.HTTPCheckType != CheckTypeHTTP {
		return fmt.Errorf("TRACKERD_HTTP_CHECK_TYPE must be TCP or HTTP, got %q", c.HTTPCheckType)
	}
	if c.HTTPCheckType == CheckTypeHTTP && c.HTTPCheckURI == "" {
		return errors.New("TRACKERD_HTTP_CHECK_URI is required in HTTP check mode")
	}
	if c.ConnectTimeout <= 0 || c.NetworkTimeout <= 0 {
		return errors.New("connect and network timeouts must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

