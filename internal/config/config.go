package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string

	// DBDSN selects the MySQL store; empty falls back to the in-memory store.
	// The DSN must include parseTime=true.
	DBDSN string

	// HTTPTimeout bounds every outbound HTTP call.
	HTTPTimeout time.Duration

	// CacheTTL is the freshness window for cleaned records.
	CacheTTL time.Duration

	// FetchTimeout bounds one extraction (coordinates + upstream call).
	FetchTimeout time.Duration

	// ETLInterval enables the periodic bulk run when > 0.
	ETLInterval time.Duration

	// BackupDir receives CSV snapshots of the cleaned table.
	BackupDir string

	DirectoryBaseURL string
	WeatherBaseURL   string
	GeocoderAPIKey   string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		Port:             getenvDefault("PORT", "8080"),
		DBDSN:            os.Getenv("DB_DSN"),
		BackupDir:        getenvDefault("BACKUP_DIR", "backups"),
		DirectoryBaseURL: getenvDefault("DIRECTORY_BASE_URL", "https://restcountries.com/v3.1"),
		WeatherBaseURL:   getenvDefault("WEATHER_BASE_URL", "https://api.open-meteo.com/v1/forecast"),
		GeocoderAPIKey:   os.Getenv("GEOCODER_API_KEY"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", "60s"); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getenvDuration("FETCH_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	// ETL scheduling is opt-in; 0 disables it.
	if cfg.ETLInterval, err = getenvDuration("ETL_INTERVAL", "0s"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
