package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	liststrings "smregister/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Environment string
	Server      Server
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	// AdminToken guards the /internal routes when set.
	AdminToken string
}

// DatabaseConfig points at the status database. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SourceConfig is one inbound status topic.
type SourceConfig struct {
	Name  string
	Topic string
	// IgnoreOrigin skips records whose source field names this origin.
	IgnoreOrigin string
}

// KafkaConfig holds the consumer and producer settings.
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	ClientID       string
	Sources        []SourceConfig
	SentTopic      string
	ConfirmedTopic string
	MaxPollRecords int
	PollTimeout    time.Duration
	IdleWait       time.Duration
	Backoff        time.Duration
}

// RedisConfig configures emission duplicate suppression. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DedupeTTL    time.Duration
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string
	dur := func(key string, def time.Duration) time.Duration {
		v, err := parseDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := parseInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Config{
		Environment: readEnv("SMREGISTER_ENV", ""),
		Server: Server{
			Addr:            readEnv("SMREGISTER_ADDR", ":8080"),
			ShutdownTimeout: dur("SHUTDOWN_TIMEOUT", 10*time.Second),
			AdminToken:      os.Getenv("SMREGISTER_ADMIN_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    num("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    num("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: dur("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:        liststrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			GroupID:        readEnv("KAFKA_GROUP_ID", "smregister-status"),
			ClientID:       readEnv("KAFKA_CLIENT_ID", "smregister"),
			SentTopic:      readEnv("KAFKA_SENT_TOPIC", "teamsykmelding.syfo-sendt-sykmelding"),
			ConfirmedTopic: readEnv("KAFKA_CONFIRMED_TOPIC", "teamsykmelding.syfo-bekreftet-sykmelding"),
			MaxPollRecords: num("KAFKA_MAX_POLL_RECORDS", 100),
			PollTimeout:    dur("KAFKA_POLL_TIMEOUT", time.Second),
			IdleWait:       dur("KAFKA_IDLE_WAIT", 100*time.Millisecond),
			Backoff:        dur("KAFKA_BACKOFF", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     num("REDIS_POOL_SIZE", 10),
			MinIdleConns: num("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  dur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  dur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: dur("REDIS_WRITE_TIMEOUT", 3*time.Second),
			DedupeTTL:    dur("REDIS_DEDUPE_TTL", 24*time.Hour),
		},
	}

	if topic := os.Getenv("KAFKA_PRIMARY_TOPIC"); topic != "" {
		cfg.Kafka.Sources = append(cfg.Kafka.Sources, SourceConfig{
			Name:  readEnv("KAFKA_PRIMARY_NAME", "primary"),
			Topic: topic,
		})
	}
	if topic := os.Getenv("KAFKA_MIRROR_TOPIC"); topic != "" {
		cfg.Kafka.Sources = append(cfg.Kafka.Sources, SourceConfig{
			Name:         readEnv("KAFKA_MIRROR_NAME", "mirror"),
			Topic:        topic,
			IgnoreOrigin: os.Getenv("KAFKA_MIRROR_IGNORE_ORIGIN"),
		})
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if len(cfg.Kafka.Sources) > 0 && len(cfg.Kafka.Brokers) == 0 {
		return Config{}, fmt.Errorf("invalid configuration: KAFKA_BROKERS is required when a source topic is set")
	}
	return cfg, nil
}

// nonProduction lists the environments that allow administrative resets. Any other name,
// including an unset one, is production.
var nonProduction = map[string]struct{}{
	"local":   {},
	"dev":     {},
	"test":    {},
	"dev-fss": {},
	"dev-gcp": {},
}

// IsProduction reports whether the environment refuses administrative resets.
func (c Config) IsProduction() bool {
	_, ok := nonProduction[strings.ToLower(strings.TrimSpace(c.Environment))]
	return !ok
}

func readEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
