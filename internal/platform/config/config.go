package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName      string
	HTTPPort         string
	PostgresDSN      string
	PostgresMaxConns int
	AutoMigrate      bool
	KafkaBrokers     []string

	// Worker tunables.
	PollInterval   time.Duration
	ClaimBatchSize int
	LeaseTTL       time.Duration
	DedupTTL       time.Duration

	EnableDispatcher         bool
	EnableLeaseReclaimer     bool
	EnableOutboxRelay        bool
	EnableEngagementConsumer bool
}

func Load() (Config, error) {
	// Local development convenience; absent .env files are not an error.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "dripiq-outreach"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	return Config{
		ServiceName:      service,
		HTTPPort:         port,
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		PostgresMaxConns: envInt("POSTGRES_MAX_CONNS", 10),
		AutoMigrate:      envBool("DB_AUTO_MIGRATE", false),
		KafkaBrokers:     brokers,

		PollInterval:   envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		ClaimBatchSize: envInt("CLAIM_BATCH_SIZE", 50),
		LeaseTTL:       envDuration("ACTION_LEASE_TTL", 5*time.Minute),
		DedupTTL:       envDuration("EVENT_DEDUP_TTL", 24*time.Hour),

		EnableDispatcher:         envBool("ENABLE_DISPATCHER", true),
		EnableLeaseReclaimer:     envBool("ENABLE_LEASE_RECLAIMER", true),
		EnableOutboxRelay:        envBool("ENABLE_OUTBOX_RELAY", true),
		EnableEngagementConsumer: envBool("ENABLE_ENGAGEMENT_CONSUMER", true),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
