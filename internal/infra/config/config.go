package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config aggregates gateway configuration loaded from environment
// variables (optionally seeded from a local .env file).
type Config struct {
	Env      string
	HTTPAddr string

	InstanceID string

	MongoURI string
	MongoDB  string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaTimeout     time.Duration
	ScyllaConsistency gocql.Consistency
	ReplicationFactor int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	WriteWait    time.Duration
	PongWait     time.Duration
	MaxFrameSize int64
}

// Load parses configuration from the current environment. A missing
// .env file is fine; explicit environment variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:            getEnv("APP_ENV", "dev"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		InstanceID:     getEnv("INSTANCE_ID", uuid.NewString()),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", "hirehub"),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "hirehub_messages"),
		ScyllaUsername: os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword: os.Getenv("SCYLLA_PASSWORD"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "hirehub.messages"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "hirehub-gateway"),
	}
	if hosts := getEnv("SCYLLA_HOSTS", "localhost:9042"); hosts != "" {
		cfg.ScyllaHosts = splitList(hosts)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	timeout, err := parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = timeout

	writeWait, err := parseDurationEnv("WS_WRITE_WAIT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.WriteWait = writeWait

	pongWait, err := parseDurationEnv("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.PongWait = pongWait

	maxFrame, err := parseIntEnv("WS_MAX_FRAME_BYTES", 64*1024)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFrameSize = int64(maxFrame)

	rf, err := parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplicationFactor = rf

	cfg.ScyllaConsistency = gocql.Quorum
	if raw := os.Getenv("SCYLLA_CONSISTENCY"); raw != "" {
		consistency, err := gocql.ParseConsistencyWrapper(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCYLLA_CONSISTENCY %q: %w", raw, err)
		}
		cfg.ScyllaConsistency = consistency
	}

	if cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI is required")
	}
	if len(cfg.ScyllaHosts) == 0 {
		return Config{}, fmt.Errorf("SCYLLA_HOSTS is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
