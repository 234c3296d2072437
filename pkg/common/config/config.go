package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Logging
	ServiceName string
	LogLevel    string
	LogFormat   string

	// Database
	DatabaseDriver   string
	SQLitePath       string
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	BatchInputTopic     string
	DecisionOutputTopic string
	DecisionDLQTopic    string

	// Reconciliation
	PlantTimezone      string
	RetrievalTimeout   time.Duration
	PolicyFile         string
	PollInterval       time.Duration
	PollBatchSize      int
	PollLookback       time.Duration
	Workers            int
	DateLockEnabled    bool
	DateLockTTL        time.Duration
	EnforceUniqueOrder bool
	IntakeEnabled      bool
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		ServiceName: getEnv("SERVICE_NAME", "reconcile-service"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		DatabaseDriver:   getEnv("DATABASE_DRIVER", "postgres"),
		SQLitePath:       getEnv("SQLITE_PATH", "reconcile.db"),
		DBMaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 5),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "batchplant"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "batchplant"),
		PostgresDB:       getEnv("POSTGRES_DB", "batchplant"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "reconcile-service"),
		BatchInputTopic:     getEnv("BATCH_INPUT_TOPIC", "batches.recorded"),
		DecisionOutputTopic: getEnv("DECISION_OUTPUT_TOPIC", "batches.link-decisions"),
		DecisionDLQTopic:    getEnv("DECISION_DLQ_TOPIC", ""),

		PlantTimezone:      getEnv("PLANT_TIMEZONE", "Local"),
		RetrievalTimeout:   getDuration("RETRIEVAL_TIMEOUT", 5*time.Second),
		PolicyFile:         getEnv("RECONCILE_POLICY_FILE", ""),
		PollInterval:       getDuration("RECONCILE_POLL_INTERVAL", time.Minute),
		PollBatchSize:      getIntEnv("RECONCILE_POLL_BATCH_SIZE", 200),
		PollLookback:       getDuration("RECONCILE_LOOKBACK", 48*time.Hour),
		Workers:            getIntEnv("RECONCILE_WORKERS", 4),
		DateLockEnabled:    getBoolEnv("RECONCILE_DATE_LOCK", false),
		DateLockTTL:        getDuration("RECONCILE_LOCK_TTL", 30*time.Second),
		EnforceUniqueOrder: getBoolEnv("ENFORCE_UNIQUE_ORDER_LINK", false),
		IntakeEnabled:      getBoolEnv("INTAKE_API_ENABLED", true),
	}
}

// LoadEnvFiles exports variables from .env style files into the process
// environment without overriding values that are already set. Missing files
// are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Location resolves PlantTimezone, falling back to the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.PlantTimezone == "" || c.PlantTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.PlantTimezone)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
