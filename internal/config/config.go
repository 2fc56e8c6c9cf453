package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

// SourceConfig describes one upstream feed endpoint.
type SourceConfig struct {
	Name     string
	Type     domain.DisasterType
	URL      string
	Interval time.Duration

	// Priority orders sources for merge identity resolution; lower wins.
	Priority int
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// FetchTimeout bounds a single source fetch, independent of the source's
	// refresh interval.
	FetchTimeout time.Duration

	// PolicyFile optionally overrides the compiled-in per-type policies.
	PolicyFile string

	// Circuit breaker thresholds.
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerMaxResetTimeout  time.Duration

	// Kafka feed publishing. Disabled unless KAFKA_ENABLED=true.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaFeedTopic string

	Sources []SourceConfig
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first when
// present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("INFO: error loading .env file: %v", err)
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	resetTimeout, err := parseDuration("BREAKER_RESET_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	maxResetTimeout, err := parseDuration("BREAKER_MAX_RESET_TIMEOUT", "600s")
	if err != nil {
		return nil, err
	}

	failureThreshold, err := parseInt("BREAKER_FAILURE_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}

	sources, err := parseSources(os.Getenv("SOURCES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		FetchTimeout:    fetchTimeout,
		PolicyFile:      os.Getenv("POLICY_FILE"),

		BreakerFailureThreshold: failureThreshold,
		BreakerResetTimeout:     resetTimeout,
		BreakerMaxResetTimeout:  maxResetTimeout,

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaFeedTopic: envOrDefault("KAFKA_FEED_TOPIC", "canonical-disaster-feeds"),

		Sources: sources,
	}

	if len(cfg.Sources) == 0 {
		return nil, errors.New("SOURCES is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.BreakerFailureThreshold <= 0 {
		return nil, errors.New("BREAKER_FAILURE_THRESHOLD must be positive")
	}

	return cfg, nil
}

// parseSources decodes the SOURCES variable: semicolon-separated entries of
// the form name|type|url|interval|priority.
func parseSources(raw string) ([]SourceConfig, error) {
	if raw == "" {
		return nil, nil
	}

	var sources []SourceConfig
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid SOURCES entry %q: want name|type|url|interval|priority", entry)
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q: empty name", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate source name %q", name)
		}
		seen[name] = true

		interval, err := time.ParseDuration(strings.TrimSpace(parts[3]))
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid interval for source %q: %q", name, parts[3])
		}

		priority, err := strconv.Atoi(strings.TrimSpace(parts[4]))
		if err != nil {
			return nil, fmt.Errorf("invalid priority for source %q: %q", name, parts[4])
		}

		url := strings.TrimSpace(parts[2])
		if url == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q: empty url", entry)
		}

		sources = append(sources, SourceConfig{
			Name:     name,
			Type:     domain.DisasterType(strings.TrimSpace(parts[1])),
			URL:      url,
			Interval: interval,
			Priority: priority,
		})
	}
	return sources, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
