// Package config loads process-level settings from the environment and the
// richer signer.* settings tree from an optional YAML file, mirroring the
// teacher's two-tier config.go (env vars)/profile_loader.go (YAML) split.
package config

import "os"

// Config holds process-level knobs: ports, DSNs, log level, and the paths
// to the files this process actually needs at startup.
type Config struct {
	Port              string
	LogLevel          string
	DatabaseURL       string
	SettingsFile      string // optional YAML file for the signer.* tree (§6)
	JWTSecret         string
	CacheBackend      string // "cloudfront" | "redis" | "" (disabled)
	RedisAddr         string
	CapabilityURL     string
	CapabilityVersion string
}

// Load reads configuration from environment variables, matching the
// teacher's os.Getenv-with-fallback style.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8888"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://signer@localhost:5432/kinto_signer?sslmode=disable"
	}

	settingsFile := os.Getenv("SIGNER_SETTINGS_FILE")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "change-me"
	}

	cacheBackend := os.Getenv("CACHE_BACKEND")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	capabilityURL := os.Getenv("CAPABILITY_URL")
	if capabilityURL == "" {
		capabilityURL = "http://localhost:" + port
	}

	capabilityVersion := os.Getenv("CAPABILITY_VERSION")
	if capabilityVersion == "" {
		capabilityVersion = "1.0.0"
	}

	return &Config{
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       dbURL,
		SettingsFile:      settingsFile,
		JWTSecret:         jwtSecret,
		CacheBackend:      cacheBackend,
		RedisAddr:         redisAddr,
		CapabilityURL:     capabilityURL,
		CapabilityVersion: capabilityVersion,
	}
}
