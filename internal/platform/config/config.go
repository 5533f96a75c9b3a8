package config

import (
	"fmt"
	"os"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean; the correlation policy additionally has a
// YAML file with hot-reload (see Loader).
type Config struct {
	// QueueURL is the target application's queue page, including the
	// location_ids query parameter.
	QueueURL string

	// APIAddr is the read API listen address.
	APIAddr string

	// JSONLogPath is the append-only record log.
	JSONLogPath string

	// PolicyPath is the optional correlation policy YAML file.
	PolicyPath string

	// ConflictPolicy is the relational upsert conflict policy: "ignore"
	// keeps first-seen rows, "update" overwrites non-key fields.
	ConflictPolicy string

	// Headless launches the browser without a window. The default is a
	// visible window since a human operates the form.
	Headless bool

	DB DB
}

// DB is the Postgres connection configuration.
type DB struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// DSN renders a pgx-compatible connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// FromEnv builds the config from environment variables with development
// defaults.
func FromEnv() Config {
	return Config{
		QueueURL:       os.Getenv("INTAKEWATCH_QUEUE_URL"),
		APIAddr:        envOr("INTAKEWATCH_API_ADDR", ":8000"),
		JSONLogPath:    envOr("INTAKEWATCH_JSON_LOG", "patient_data.jsonl"),
		PolicyPath:     os.Getenv("INTAKEWATCH_POLICY_FILE"),
		ConflictPolicy: envOr("INTAKEWATCH_ON_CONFLICT", "update"),
		Headless:       os.Getenv("INTAKEWATCH_HEADLESS") == "true",
		DB: DB{
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envOr("DB_PORT", "5432"),
			Name:     envOr("DB_NAME", "intakewatch"),
			User:     envOr("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
