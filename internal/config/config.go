package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	AuthToken         string
	AgentBaseURL      string
	SQLitePath        string
	HistoryWindow     int
	TitleBudget       int
	MinStatusInterval time.Duration
	RequestTimeout    time.Duration
	LogLevel          string
}

func Load() Config {
	minStatusMS := envInt("SAHAAY_STATUS_MIN_INTERVAL_MS", 1500)
	requestTimeoutSec := envInt("SAHAAY_REQUEST_TIMEOUT_SECONDS", 120)
	baseDir := executableDir()
	return Config{
		HTTPAddr:          env("SAHAAY_HTTP_ADDR", ":8874"),
		AuthToken:         env("SAHAAY_AUTH_TOKEN", "sahaay-dev-token"),
		AgentBaseURL:      strings.TrimRight(env("SAHAAY_AGENT_URL", "http://127.0.0.1:8000"), "/"),
		SQLitePath:        envPath("SAHAAY_SQLITE_PATH", filepath.Join(baseDir, "sahaay.db"), baseDir),
		HistoryWindow:     envInt("SAHAAY_HISTORY_WINDOW", 10),
		TitleBudget:       envInt("SAHAAY_TITLE_BUDGET", 50),
		MinStatusInterval: time.Duration(minStatusMS) * time.Millisecond,
		RequestTimeout:    time.Duration(requestTimeoutSec) * time.Second,
		LogLevel:          env("SAHAAY_LOG_LEVEL", "info"),
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envPath(k, def, baseDir string) string {
	v := env(k, def)
	if v == "" {
		return v
	}
	if filepath.IsAbs(v) {
		return v
	}
	if baseDir == "" {
		return v
	}
	return filepath.Join(baseDir, v)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return "."
	}
	if real, err := filepath.EvalSymlinks(exe); err == nil && real != "" {
		exe = real
	}
	dir := filepath.Dir(exe)
	if dir == "" {
		return "."
	}
	return dir
}
