package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend identifiers accepted for STORE_BACKEND.
const (
	BackendCatch = "catch"
	BackendApp   = "app"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Store configuration
	StoreBackend     string // catch (remote annotation database) or app (local relational store)
	GatherStatistics bool
	Organization     string

	// LTI configuration
	ConsumerKey   string
	LTISecret     string
	SessionSecret string

	// Remote annotation database (catch backend)
	AnnotationDBURL    string
	AnnotationDBAPIKey string
	AnnotationDBSecret string

	// Database configuration (app backend)
	DBType            string // mysql, postgres, sqlite, sqlserver, etc.
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUser            string
	DBPassword        string
	DBConnectionLimit int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "3000"),
		StoreBackend:       getEnv("STORE_BACKEND", BackendCatch),
		GatherStatistics:   getEnvAsBool("GATHER_STATISTICS", false),
		Organization:       getEnv("ORGANIZATION", ""),
		ConsumerKey:        getEnv("CONSUMER_KEY", ""),
		LTISecret:          getEnv("LTI_SECRET", ""),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		AnnotationDBURL:    getEnv("ANNOTATION_DB_URL", ""),
		AnnotationDBAPIKey: getEnv("ANNOTATION_DB_API_KEY", ""),
		AnnotationDBSecret: getEnv("ANNOTATION_DB_SECRET_TOKEN", ""),
		DBType:             getEnv("DB_TYPE", "mysql"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "3306"),
		DBDatabase:         getEnv("DB_DATABASE", ""),
		DBUser:             getEnv("DB_USER", ""),
		DBPassword:         getEnv("DB_PASSWORD", ""),
		DBConnectionLimit:  getEnvAsInt("DB_CONNECTION_LIMIT", 5),
	}

	// Validate required fields
	if cfg.StoreBackend != BackendCatch && cfg.StoreBackend != BackendApp {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q", BackendCatch, BackendApp)
	}
	if cfg.ConsumerKey == "" {
		return nil, fmt.Errorf("CONSUMER_KEY is required")
	}
	if cfg.LTISecret == "" {
		return nil, fmt.Errorf("LTI_SECRET is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.StoreBackend == BackendCatch {
		if cfg.AnnotationDBURL == "" {
			return nil, fmt.Errorf("ANNOTATION_DB_URL is required for the catch backend")
		}
		if cfg.AnnotationDBAPIKey == "" {
			return nil, fmt.Errorf("ANNOTATION_DB_API_KEY is required for the catch backend")
		}
		if cfg.AnnotationDBSecret == "" {
			return nil, fmt.Errorf("ANNOTATION_DB_SECRET_TOKEN is required for the catch backend")
		}
	}
	if cfg.StoreBackend == BackendApp {
		if cfg.DBDatabase == "" {
			return nil, fmt.Errorf("DB_DATABASE is required for the app backend")
		}
		if cfg.DBType != "sqlite" && cfg.DBUser == "" {
			return nil, fmt.Errorf("DB_USER is required for the app backend")
		}
	}

	return cfg, nil
}

// AdminGroupEnabled reports whether private annotations should be made
// readable by the course admin group. Enabled for exactly one deployment
// profile.
func (c *Config) AdminGroupEnabled() bool {
	return c.Organization == "ATG"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
