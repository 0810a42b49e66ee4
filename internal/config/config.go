package config

import (
	"os"
	"strconv"
	"time"
)

// Scheduling modes for the download queue.
const (
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
	ModeLimited    = "limited"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	// Queue scheduling
	SchedulingMode  string
	ConcurrentLimit int

	// Job store
	StoreBackend string // "redis" or "postgres"
	RedisURL     string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string

	// Worker process
	DownloadDir       string
	YTDLPPath         string
	WorkerGracePeriod time.Duration

	// Optional object-storage archive of finished downloads
	ArchiveEnabled bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() *Config {
	limit, _ := strconv.Atoi(getEnvOrDefault("CONCURRENT_LIMIT", "3"))
	if limit <= 0 {
		limit = 3
	}

	grace, err := time.ParseDuration(getEnvOrDefault("WORKER_GRACE_PERIOD", "5s"))
	if err != nil || grace <= 0 {
		grace = 5 * time.Second
	}

	mode := getEnvOrDefault("SCHEDULING_MODE", ModeLimited)
	switch mode {
	case ModeSequential, ModeConcurrent, ModeLimited:
	default:
		mode = ModeLimited
	}

	archiveEnabled, _ := strconv.ParseBool(getEnvOrDefault("ARCHIVE_ENABLED", "false"))
	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))

	return &Config{
		ServerAddr:        getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		SchedulingMode:    mode,
		ConcurrentLimit:   limit,
		StoreBackend:      getEnvOrDefault("STORE_BACKEND", "redis"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DBHost:            getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:            getEnvOrDefault("DB_PORT", "5432"),
		DBUser:            getEnvOrDefault("DB_USER", "fetchdeck"),
		DBPassword:        getEnvOrDefault("DB_PASSWORD", "fetchdeck_dev_password"),
		DBName:            getEnvOrDefault("DB_NAME", "fetchdeck"),
		DownloadDir:       getEnvOrDefault("DOWNLOAD_DIR", "./downloads"),
		YTDLPPath:         getEnvOrDefault("YTDLP_PATH", "yt-dlp"),
		WorkerGracePeriod: grace,
		ArchiveEnabled:    archiveEnabled,
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:    getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:    getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:       getEnvOrDefault("MINIO_BUCKET", "downloads"),
		MinioUseSSL:       minioUseSSL,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
