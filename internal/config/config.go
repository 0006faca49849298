package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. It is built once at
// process start and passed by reference; no component reads the environment
// directly.
type Config struct {
	Source    SourceConfig
	State     StateConfig
	Warehouse WarehouseConfig
	Schedule  ScheduleConfig
	Server    ServerConfig
}

// SourceConfig holds the remote data source settings.
type SourceConfig struct {
	BaseURL    string
	Datasource string
	UserAgent  string
	Timeout    time.Duration
}

// StateConfig selects and configures the durable state store.
type StateConfig struct {
	Backend   string // "file", "dynamodb", "mongodb"
	FilePath  string
	Region    string // for DynamoDB
	TableName string
	Endpoint  string // custom endpoint for local DynamoDB
	MongoURI  string
	MongoDB   string
}

// WarehouseConfig selects and configures the warehouse sink.
type WarehouseConfig struct {
	Backend     string // "bigquery", "postgres"
	Project     string
	Dataset     string
	PostgresURI string
	Location    string // static location for backends that cannot resolve one
}

// ScheduleConfig holds the daemon schedule and maintenance cadence.
type ScheduleConfig struct {
	Interval             time.Duration
	CronSpec             string // when set, overrides Interval in daemon mode
	MaintenanceEvery     time.Duration
	MaintenanceRetention time.Duration
}

// ServerConfig holds the daemon status server settings.
type ServerConfig struct {
	Port int
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Source: SourceConfig{
			BaseURL:    getEnv("ESI_BASE_URL", "https://esi.evetech.net/latest"),
			Datasource: getEnv("ESI_DATASOURCE", "tranquility"),
			UserAgent:  getEnv("ESI_USER_AGENT", "activity-ingest/1.0 (contact: ops@evescope.dev)"),
			Timeout:    getEnvDuration("ESI_TIMEOUT", 30*time.Second),
		},
		State: StateConfig{
			Backend:   getEnv("STATE_BACKEND", "file"),
			FilePath:  getEnv("STATE_FILE", "state.ndjson"),
			Region:    getEnv("AWS_REGION", "us-west-2"),
			TableName: getEnv("STATE_TABLE", "activity_ingest_state"),
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			MongoURI:  getEnv("MONGODB_URI", ""),
			MongoDB:   getEnv("MONGODB_DATABASE", "activity_ingest"),
		},
		Warehouse: WarehouseConfig{
			Backend:     getEnv("WAREHOUSE_BACKEND", "bigquery"),
			Project:     getEnv("GCP_PROJECT_ID", ""),
			Dataset:     getEnv("BQ_DATASET", "universe"),
			PostgresURI: getEnv("POSTGRES_URI", ""),
			Location:    getEnv("WAREHOUSE_LOCATION", ""),
		},
		Schedule: ScheduleConfig{
			Interval:             getEnvDuration("RUN_INTERVAL", 15*time.Minute),
			CronSpec:             getEnv("RUN_CRON", ""),
			MaintenanceEvery:     getEnvDuration("MAINTENANCE_EVERY", 7*24*time.Hour),
			MaintenanceRetention: getEnvDuration("MAINTENANCE_RETENTION", 400*24*time.Hour),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
	}

	return cfg, nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
