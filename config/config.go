package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OpenVidu  OpenViduConfig
	AWS       AWSConfig
	Scheduler SchedulerConfig
	Broadcast BroadcastConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// OpenViduConfig holds media session provider settings.
// The provider is consumed over its REST API with basic auth.
type OpenViduConfig struct {
	URL        string // e.g. https://openvidu.example.com
	Secret     string // OPENVIDUAPP basic-auth secret
	TimeoutSec int
}

// AWSConfig holds AWS credentials and the VOD bucket name.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	VodBucket       string
}

// SchedulerConfig holds lifecycle sweep settings.
type SchedulerConfig struct {
	IntervalSec     int // sweep period
	NoShowGraceMins int // minutes after scheduled start before no-show cancel
}

// BroadcastConfig holds reservation and slot limits.
type BroadcastConfig struct {
	MaxReservedPerSeller int
	MaxPerSlot           int
	SlotMinutes          int
	MaxProducts          int
	MaxQcards            int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/livemarket?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livemarket"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		OpenVidu: OpenViduConfig{
			URL:        getEnv("OPENVIDU_URL", "http://localhost:4443"),
			Secret:     getEnv("OPENVIDU_SECRET", "MY_SECRET"),
			TimeoutSec: getEnvInt("OPENVIDU_TIMEOUT_SEC", 10),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			VodBucket:       getEnv("AWS_S3_VOD_BUCKET", "livemarket-vod-bucket"),
		},
		Scheduler: SchedulerConfig{
			IntervalSec:     getEnvInt("SCHEDULER_INTERVAL_SEC", 60),
			NoShowGraceMins: getEnvInt("SCHEDULER_NO_SHOW_GRACE_MINS", 10),
		},
		Broadcast: BroadcastConfig{
			MaxReservedPerSeller: getEnvInt("BROADCAST_MAX_RESERVED", 7),
			MaxPerSlot:           getEnvInt("BROADCAST_MAX_PER_SLOT", 3),
			SlotMinutes:          getEnvInt("BROADCAST_SLOT_MINUTES", 30),
			MaxProducts:          getEnvInt("BROADCAST_MAX_PRODUCTS", 10),
			MaxQcards:            getEnvInt("BROADCAST_MAX_QCARDS", 10),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
