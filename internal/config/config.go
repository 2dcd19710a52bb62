// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort string

	DatabaseURL string
	// MemoryStore switches persistence to the in-memory backend. Single
	// process only; useful for local development.
	MemoryStore bool

	CRMBaseURL string
	CRMAPIKey  string
	// CRMEnabled gates every outbound push and every pull endpoint. When
	// false the service stores entities but never talks to the CRM.
	CRMEnabled bool

	GeocoderAPIKey  string
	GeocoderBaseURL string

	JWTSecret string

	Workers      int
	PollInterval time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	TaskLease    time.Duration

	// Remote category names selecting the local account kinds.
	ShelterCategory string
	ClinicCategory  string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MemoryStore:     getEnvBool("MEMORY_STORE", false),
		CRMBaseURL:      os.Getenv("CRM_URL"),
		CRMAPIKey:       os.Getenv("CRM_API_KEY"),
		CRMEnabled:      getEnvBool("CRM_ENABLED", true),
		GeocoderAPIKey:  os.Getenv("GEOCODER_API_KEY"),
		GeocoderBaseURL: os.Getenv("GEOCODER_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		ShelterCategory: os.Getenv("CRM_SHELTER_CATEGORY"),
		ClinicCategory:  os.Getenv("CRM_CLINIC_CATEGORY"),
	}

	var err error
	if cfg.Workers, err = getEnvInt("SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("SYNC_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.BaseBackoff, err = getEnvDuration("SYNC_BASE_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = getEnvDuration("SYNC_MAX_BACKOFF", 100*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TaskLease, err = getEnvDuration("SYNC_TASK_LEASE", 2*time.Minute); err != nil {
		return nil, err
	}

	if !cfg.MemoryStore && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required unless MEMORY_STORE=true")
	}
	if cfg.CRMEnabled {
		if cfg.CRMBaseURL == "" {
			return nil, errors.New("CRM_URL is required when CRM_ENABLED=true")
		}
		if cfg.CRMAPIKey == "" {
			return nil, errors.New("CRM_API_KEY is required when CRM_ENABLED=true")
		}
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}
