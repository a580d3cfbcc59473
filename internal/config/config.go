package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddress string
	DatabaseURL   string
	JWTSecret     string
	LogLevel      string
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one is present.
func Load() *Config {
	// A missing .env is fine, the supervisor may set env vars directly.
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	dataDir := filepath.Join(cwd, "data")
	os.MkdirAll(dataDir, 0755)

	dbPath := filepath.Join(dataDir, "chatflow.db")

	return &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		DatabaseURL:   getEnv("DATABASE_URL", "sqlite://"+dbPath),
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
		LogLevel:      getEnv("LOG_LEVEL", "debug"),
	}
}

// CleanDatabasePath returns a clean filesystem path from a database URL.
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
