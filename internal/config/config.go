package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBPath              string
	DockerHost          string
	HTTPAddr            string
	TelegramToken       string
	TelegramChatID      string
	RestartPollInterval time.Duration
	RestartPollAttempts int
	StopTimeoutSeconds  int
	ActivityPageLimit   int
	BackupDir           string
	BackupImage         string
}

func Load() Config {
	return Config{
		DBPath:              getEnv("DF_DB_PATH", "./dockerflow.db"),
		DockerHost:          getEnv("DF_DOCKER_HOST", ""),
		HTTPAddr:            getEnv("DF_HTTP_ADDR", ":8080"),
		TelegramToken:       os.Getenv("DF_TG_TOKEN"),
		TelegramChatID:      os.Getenv("DF_TG_CHAT_ID"),
		RestartPollInterval: time.Duration(getEnvInt("DF_RESTART_POLL_MS", 1000)) * time.Millisecond,
		RestartPollAttempts: getEnvInt("DF_RESTART_POLL_ATTEMPTS", 10),
		StopTimeoutSeconds:  getEnvInt("DF_STOP_TIMEOUT_SECONDS", 10),
		ActivityPageLimit:   getEnvInt("DF_ACTIVITY_PAGE_LIMIT", 50),
		BackupDir:           getEnv("DF_BACKUP_DIR", "/var/lib/dockerflow/backups"),
		BackupImage:         getEnv("DF_BACKUP_IMAGE", "docker.io/library/alpine:3.20"),
	}
}

func getEnv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return i
}
