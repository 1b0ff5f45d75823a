package config

import (
	"os"
	"runtime"
	"strconv"
)

type Config struct {
	ServerAddr  string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	RedisAddr   string
	RedisURL    string
	WorkerCount int
	LogLevel    string

	// Conversion tooling
	FFmpegPath  string
	FFprobePath string

	// Local file layout
	UploadDir string
	OutputDir string

	// MinIO/S3 configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Job limits
	JobTimeoutMinutes        int
	ConversionTimeoutMinutes int
	RetentionDays            int
	MaxFilesPerJob           int
}

func Load() *Config {
	workerCount, _ := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", "0"))
	if workerCount <= 0 {
		workerCount = defaultWorkerCount()
	}

	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))

	jobTimeout, _ := strconv.Atoi(getEnvOrDefault("JOB_TIMEOUT_MINUTES", "60"))
	if jobTimeout <= 0 {
		jobTimeout = 60
	}

	conversionTimeout, _ := strconv.Atoi(getEnvOrDefault("CONVERSION_TIMEOUT_MINUTES", "60"))
	if conversionTimeout <= 0 {
		conversionTimeout = 60
	}

	retentionDays, _ := strconv.Atoi(getEnvOrDefault("RETENTION_DAYS", "7"))
	if retentionDays <= 0 {
		retentionDays = 7
	}

	maxFiles, _ := strconv.Atoi(getEnvOrDefault("MAX_FILES_PER_JOB", "50"))
	if maxFiles <= 0 {
		maxFiles = 50
	}

	return &Config{
		ServerAddr:               getEnvOrDefault("SERVER_ADDR", ":8080"),
		DBHost:                   getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:                   getEnvOrDefault("DB_PORT", "5432"),
		DBUser:                   getEnvOrDefault("DB_USER", "mp3forge"),
		DBPassword:               getEnvOrDefault("DB_PASSWORD", "mp3forge_dev_password"),
		DBName:                   getEnvOrDefault("DB_NAME", "mp3forge"),
		DBSSLMode:                getEnvOrDefault("DB_SSLMODE", "disable"),
		RedisAddr:                getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisURL:                 getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		WorkerCount:              workerCount,
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", "info"),
		FFmpegPath:               getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:              getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		UploadDir:                getEnvOrDefault("UPLOAD_DIR", "./data/uploads"),
		OutputDir:                getEnvOrDefault("OUTPUT_DIR", "./data/converted"),
		MinioEndpoint:            getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:           getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:           getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:              getEnvOrDefault("MINIO_BUCKET", "converted-audio"),
		MinioUseSSL:              minioUseSSL,
		JobTimeoutMinutes:        jobTimeout,
		ConversionTimeoutMinutes: conversionTimeout,
		RetentionDays:            retentionDays,
		MaxFilesPerJob:           maxFiles,
	}
}

// defaultWorkerCount leaves one core free for the API and coordinator.
func defaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
