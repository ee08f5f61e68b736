// Package config loads the settings shared by ZSS clients and services from
// the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"zss/validate"
)

// Environment selects default endpoints. It is not part of the protocol.
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	Production  Environment = "production"
)

func (e Environment) IsDevelopment() bool { return e == Development }
func (e Environment) IsTest() bool        { return e == Test }
func (e Environment) IsProduction() bool  { return e == Production }

const (
	DefaultFrontend        = "tcp://127.0.0.1:5560"
	DefaultBackend         = "tcp://127.0.0.1:5559"
	DefaultIdentity        = "client"
	DefaultTimeout         = 1000 * time.Millisecond
	DefaultHeartbeat       = 1000 * time.Millisecond
	DefaultShutdownTimeout = 1000 * time.Millisecond
	DefaultMaxInFlight     = 64
)

type Config struct {
	Env Environment

	// Broker endpoints: clients dial the frontend, services the backend.
	Frontend string
	Backend  string

	// Identity is the base of client socket identities ("<Identity>#<suffix>").
	Identity string

	Timeout         time.Duration // default client call timeout
	Heartbeat       time.Duration // service heartbeat interval
	ShutdownTimeout time.Duration // bound on waiting for SMI DOWN ack and in-flight requests
	MaxInFlight     int           // concurrent request handlers per service

	Codec string // value codec: "msgpack" or "json"

	LogLevel  string
	LogFormat string // "json" or "text"

	// Discovery. When EtcdEndpoints is empty the static endpoints above are used.
	EtcdEndpoints   []string
	FrontendService string
	BackendService  string
	PresenceTTL     int64 // seconds

	MetricsAddr string

	// Dispatch rate limit for services; 0 disables it.
	RateLimit float64
	RateBurst int
}

// Default returns the configuration for env with every default applied.
func Default(env Environment) Config {
	cfg := Config{
		Env:             env,
		Identity:        DefaultIdentity,
		Timeout:         DefaultTimeout,
		Heartbeat:       DefaultHeartbeat,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxInFlight:     DefaultMaxInFlight,
		Codec:           "msgpack",
		LogLevel:        "info",
		LogFormat:       "json",
		FrontendService: "zss-broker-frontend",
		BackendService:  "zss-broker-backend",
		PresenceTTL:     10,
	}
	if !env.IsProduction() {
		cfg.Frontend = DefaultFrontend
		cfg.Backend = DefaultBackend
	}
	return cfg
}

// Load reads .env when present, then the ZSS_* environment variables.
func Load() (Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	env := Environment(getEnv("ZSS_ENV", string(Development)))
	switch env {
	case Development, Test, Production:
	default:
		return Config{}, fmt.Errorf("config: unknown environment %q", env)
	}

	cfg := Default(env)
	cfg.Frontend = getEnv("ZSS_FRONTEND", cfg.Frontend)
	cfg.Backend = getEnv("ZSS_BACKEND", cfg.Backend)
	cfg.Identity = getEnv("ZSS_IDENTITY", cfg.Identity)
	cfg.Timeout = getEnvMillis("ZSS_TIMEOUT_MS", cfg.Timeout)
	cfg.Heartbeat = getEnvMillis("ZSS_HEARTBEAT_MS", cfg.Heartbeat)
	cfg.ShutdownTimeout = getEnvMillis("ZSS_SHUTDOWN_TIMEOUT_MS", cfg.ShutdownTimeout)
	cfg.MaxInFlight = getEnvInt("ZSS_MAX_IN_FLIGHT", cfg.MaxInFlight)
	cfg.Codec = getEnv("ZSS_CODEC", cfg.Codec)
	cfg.LogLevel = getEnv("ZSS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("ZSS_LOG_FORMAT", cfg.LogFormat)
	cfg.EtcdEndpoints = parseList(getEnv("ZSS_ETCD_ENDPOINTS", ""))
	cfg.FrontendService = getEnv("ZSS_FRONTEND_SERVICE", cfg.FrontendService)
	cfg.BackendService = getEnv("ZSS_BACKEND_SERVICE", cfg.BackendService)
	cfg.MetricsAddr = getEnv("ZSS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.RateLimit = getEnvFloat("ZSS_RATE_LIMIT", cfg.RateLimit)
	cfg.RateBurst = getEnvInt("ZSS_RATE_BURST", cfg.RateBurst)

	return cfg, cfg.Validate()
}

// Validate checks the endpoints and durations. Endpoints may be empty only
// when they are discovered through etcd.
func (c Config) Validate() error {
	var errs []error

	discovered := len(c.EtcdEndpoints) > 0
	if !discovered || c.Frontend != "" {
		if !validate.IsValidURI(c.Frontend) {
			errs = append(errs, fmt.Errorf("config: invalid frontend endpoint %q", c.Frontend))
		}
	}
	if !discovered || c.Backend != "" {
		if !validate.IsValidURI(c.Backend) {
			errs = append(errs, fmt.Errorf("config: invalid backend endpoint %q", c.Backend))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("config: timeout must be positive"))
	}
	if c.Heartbeat <= 0 {
		errs = append(errs, errors.New("config: heartbeat interval must be positive"))
	}
	if c.MaxInFlight <= 0 {
		errs = append(errs, errors.New("config: max in-flight must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) String() string {
	return fmt.Sprintf("env=%s frontend=%s backend=%s identity=%s timeout=%s heartbeat=%s codec=%s etcd=%v",
		c.Env, c.Frontend, c.Backend, c.Identity, c.Timeout, c.Heartbeat, c.Codec, c.EtcdEndpoints)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
