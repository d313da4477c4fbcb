// Package config provides configuration management for the trading core.
// It loads settings from environment variables and .env files at process
// start. Unlike the legacy engine this core does not hot-reload: every
// option here is read once at StartupGate and held for the process
// lifetime (spec.md §6).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ReleaseReadiness gates whether PRODUCTION_MODE may be enabled.
type ReleaseReadiness string

const (
	ReadinessBeta      ReleaseReadiness = "BETA"
	ReadinessProdReady ReleaseReadiness = "PROD_READY"
)

// RunMode selects which components the process starts.
type RunMode string

const (
	// RunModeFull starts the complete pipeline: feed, signals, execution, orders, exits.
	RunModeFull RunMode = "FULL"
	// RunModeFeedCollector starts only TickIntake and a relay broadcaster.
	RunModeFeedCollector RunMode = "FEED_COLLECTOR"
)

// nonProductionURLPatterns matches broker base URLs that are obviously not
// production endpoints (sandbox/staging/localhost hosts). P8 fails startup
// when PRODUCTION_MODE=true and either broker URL matches one of these.
var nonProductionURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)localhost`),
	regexp.MustCompile(`(?i)127\.0\.0\.1`),
	regexp.MustCompile(`(?i)\bsandbox\b`),
	regexp.MustCompile(`(?i)\bstaging\b`),
	regexp.MustCompile(`(?i)\buat\b`),
	regexp.MustCompile(`(?i)\btest\b`),
	regexp.MustCompile(`(?i)\bmock\b`),
}

// ValidationError holds multiple configuration validation errors. It
// aggregates all issues so operators can fix everything in one pass
// instead of re-running one error at a time.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// Config holds all process-wide configuration. It is loaded once at
// startup and never mutated afterward — there is no Reload() here, unlike
// the gateway-facing config this core's teacher used, because
// PRODUCTION_MODE and the broker wiring it gates must never change under
// a running process.
type Config struct {
	// Safety switches
	ProductionMode        bool
	OrderExecutionEnabled bool
	TradingEnabled        bool

	// Broker wiring
	DataFeedBroker     string
	OrderBroker        string
	DataFeedBaseURL    string
	OrderBrokerBaseURL string

	// Database
	DBURL      string
	DBUser     string
	DBPass     string
	DBPoolSize int

	// Gateway collaborator (consumed by the out-of-scope HTTP/WS layer,
	// validated here because CONFIG_INVALID is a single fatal gate)
	JWTSecret          string
	JWTExpirationHours int

	// HTTP / relay
	Port           int
	RelayPort      int
	WSBatchFlushMS int

	// Tick persistence
	PersistTickEvents       bool
	AsyncEventWriterEnabled bool

	ReleaseReadiness ReleaseReadiness
	ConfigDir        string
	RunMode          RunMode
}

// Load reads configuration from the environment (after applying `.env` if
// present) and validates it. Validation failures are returned as a single
// aggregated *ValidationError — this is the CONFIG_INVALID error kind,
// fatal and caught at StartupGate.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProductionMode:        getEnvBool("PRODUCTION_MODE", false),
		OrderExecutionEnabled: getEnvBool("ORDER_EXECUTION_ENABLED", false),
		TradingEnabled:        getEnvBool("TRADING_ENABLED", false),

		DataFeedBroker:     getEnv("DATA_FEED_BROKER", ""),
		OrderBroker:        getEnv("ORDER_BROKER", ""),
		DataFeedBaseURL:    getEnv("DATA_FEED_BASE_URL", ""),
		OrderBrokerBaseURL: getEnv("ORDER_BROKER_BASE_URL", ""),

		DBURL:      getEnv("DB_URL", "./data/tradecore.db"),
		DBUser:     getEnv("DB_USER", ""),
		DBPass:     getEnv("DB_PASS", ""),
		DBPoolSize: getEnvInt("DB_POOL_SIZE", 10),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTExpirationHours: getEnvInt("JWT_EXPIRATION_HOURS", 24),

		Port:           getEnvInt("PORT", 8099),
		RelayPort:      getEnvInt("RELAY_PORT", 8100),
		WSBatchFlushMS: getEnvInt("WS_BATCH_FLUSH_MS", 250),

		PersistTickEvents:       getEnvBool("PERSIST_TICK_EVENTS", false),
		AsyncEventWriterEnabled: getEnvBool("ASYNC_EVENT_WRITER_ENABLED", false),

		ReleaseReadiness: ReleaseReadiness(getEnv("RELEASE_READINESS", "BETA")),
		ConfigDir:        getEnv("CONFIG_DIR", "./config"),
		RunMode:          RunMode(getEnv("RUN_MODE", "FULL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the aggregate configuration for internal consistency.
// It never short-circuits on the first error so StartupGate can report
// everything wrong in one pass.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateReleaseReadiness()...)
	errs = append(errs, c.validateRunMode()...)
	errs = append(errs, c.validateBrokers()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateTickPersistence()...)
	errs = append(errs, c.validateProductionGate()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (c *Config) validateReleaseReadiness() []string {
	switch c.ReleaseReadiness {
	case ReadinessBeta, ReadinessProdReady:
		return nil
	default:
		return []string{fmt.Sprintf("RELEASE_READINESS must be BETA or PROD_READY, got %q", c.ReleaseReadiness)}
	}
}

func (c *Config) validateRunMode() []string {
	switch c.RunMode {
	case RunModeFull, RunModeFeedCollector:
		return nil
	default:
		return []string{fmt.Sprintf("RUN_MODE must be FULL or FEED_COLLECTOR, got %q", c.RunMode)}
	}
}

func (c *Config) validateBrokers() []string {
	var errs []string
	if c.DataFeedBroker == "" {
		errs = append(errs, "DATA_FEED_BROKER must be set: the code of the broker TickIntake subscribes to")
	}
	if c.RunMode == RunModeFull {
		if c.OrderBroker == "" {
			errs = append(errs, "ORDER_BROKER must be set when RUN_MODE=FULL: the code of the broker orders are routed to")
		}
		if c.OrderExecutionEnabled && c.OrderBrokerBaseURL == "" {
			errs = append(errs, "ORDER_BROKER_BASE_URL must be set when ORDER_EXECUTION_ENABLED=true")
		}
	}
	return errs
}

func (c *Config) validateDatabase() []string {
	var errs []string
	if c.DBURL == "" {
		errs = append(errs, "DB_URL must be set")
	}
	if c.DBPoolSize < 1 {
		errs = append(errs, "DB_POOL_SIZE must be at least 1")
	}
	return errs
}

func (c *Config) validateGateway() []string {
	var errs []string
	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET must be set: required by the gateway collaborator for session tokens")
	}
	if c.JWTExpirationHours < 1 {
		errs = append(errs, "JWT_EXPIRATION_HOURS must be at least 1")
	}
	return errs
}

func (c *Config) validateTickPersistence() []string {
	if c.PersistTickEvents && !c.AsyncEventWriterEnabled {
		return []string{"PERSIST_TICK_EVENTS requires ASYNC_EVENT_WRITER_ENABLED=true"}
	}
	return nil
}

// validateProductionGate implements P8: PRODUCTION_MODE=true with either
// broker's base URL matching a non-production pattern, or order execution
// disabled, is a fatal configuration error.
func (c *Config) validateProductionGate() []string {
	if !c.ProductionMode {
		return nil
	}
	var errs []string
	if c.ReleaseReadiness != ReadinessProdReady {
		errs = append(errs, "PRODUCTION_MODE=true requires RELEASE_READINESS=PROD_READY")
	}
	if !c.OrderExecutionEnabled {
		errs = append(errs, "PRODUCTION_MODE=true requires ORDER_EXECUTION_ENABLED=true")
	}
	if url, ok := matchesNonProductionPattern(c.DataFeedBaseURL); ok {
		errs = append(errs, fmt.Sprintf("DATA_FEED_BASE_URL %q looks non-production (matched %q) but PRODUCTION_MODE=true", c.DataFeedBaseURL, url))
	}
	if url, ok := matchesNonProductionPattern(c.OrderBrokerBaseURL); ok {
		errs = append(errs, fmt.Sprintf("ORDER_BROKER_BASE_URL %q looks non-production (matched %q) but PRODUCTION_MODE=true", c.OrderBrokerBaseURL, url))
	}
	return errs
}

func matchesNonProductionPattern(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, pat := range nonProductionURLPatterns {
		if pat.MatchString(url) {
			return pat.String(), true
		}
	}
	return "", false
}

// IsFeedCollectorOnly reports whether trading components should be skipped.
func (c *Config) IsFeedCollectorOnly() bool {
	return c.RunMode == RunModeFeedCollector
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
