package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":8080")
	t.Setenv("DATABASE_URL", "sqlite://data/test.db")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOG_LEVEL", "info")

	cfg := Load()
	require.Equal(t, ":8080", cfg.ServerAddress)
	require.Equal(t, "sqlite://data/test.db", cfg.DatabaseURL)
	require.Equal(t, "test-secret", cfg.JWTSecret)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestCleanDatabasePath(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite:///var/lib/chatflow/chatflow.db"}
	require.Equal(t, "/var/lib/chatflow/chatflow.db", cfg.CleanDatabasePath())

	cfg = &Config{DatabaseURL: "sqlite://data/chatflow.db"}
	path := cfg.CleanDatabasePath()
	require.True(t, filepath.IsAbs(path))
	require.Equal(t, "chatflow.db", filepath.Base(path))
}
