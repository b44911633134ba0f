package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for the map-file staging bucket.
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PresignTTLSec int
}

// GISConfig describes how to reach and authenticate against the GIS portal.
// Either APIKey or Username/Password must be set.
//
// ItemTitle and ItemType are sent unchanged with every upload and never come
// from the request. They default to "My Map" and "Web Map"; overriding them
// publishes items that no longer carry those fixed properties. SharePublic
// defaults to true so every uploaded item is shared with everyone.
type GISConfig struct {
	PortalURL   string
	APIKey      string
	Username    string
	Password    string
	Referer     string
	TokenExpMin int
	TimeoutSec  int
	ItemTitle   string
	ItemType    string
	SharePublic bool
}

// LogConfig controls the process logger. File is optional; when set, logs
// are also written to a rotating file.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TracingConfig mirrors the standard OTEL_* environment variables.
type TracingConfig struct {
	Disabled       bool
	ServiceName    string
	Protocol       string
	Endpoint       string
	TracesEndpoint string
	Sampler        string
	SamplerArg     string
}

// AppConfig is the centralized configuration struct for the application.
// It is built once at start-up and passed to every component that needs it.
type AppConfig struct {
	AppHost        string
	Port           string
	Timezone       string
	BodyLimitBytes int
	Database       DatabaseConfig
	MinIO          MinIOConfig
	GIS            GISConfig
	Log            LogConfig
	Tracing        TracingConfig
}

// Load reads configuration from environment variables.
// A .env file is auto-loaded by the command via _ "github.com/joho/godotenv/autoload";
// real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:8080"),
		Port:           getEnv("PORT", "8080"),
		Timezone:       getEnv("APP_TIMEZONE", "UTC"),
		BodyLimitBytes: getEnvInt("HTTP_BODY_LIMIT_BYTES", 10*1024*1024),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:      getEnv("MINIO_ENDPOINT", ""),
			AccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:     getEnv("MINIO_SECRET_KEY", ""),
			Bucket:        getEnv("MINIO_BUCKET", ""),
			UseSSL:        getEnvBool("MINIO_USE_SSL", false),
			PresignTTLSec: getEnvInt("MINIO_PRESIGN_TTL_SEC", 900),
		},
		GIS: GISConfig{
			PortalURL:   getEnv("GIS_PORTAL_URL", "https://www.arcgis.com"),
			APIKey:      getEnv("GIS_API_KEY", ""),
			Username:    getEnv("GIS_USERNAME", ""),
			Password:    getEnv("GIS_PASSWORD", ""),
			Referer:     getEnv("GIS_REFERER", "webmapapi"),
			TokenExpMin: getEnvInt("GIS_TOKEN_EXPIRATION_MIN", 60),
			TimeoutSec:  getEnvInt("GIS_TIMEOUT_SEC", 30),
			ItemTitle:   getEnv("GIS_ITEM_TITLE", "My Map"),
			ItemType:    getEnv("GIS_ITEM_TYPE", "Web Map"),
			SharePublic: getEnvBool("GIS_SHARE_PUBLIC", true),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 20),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
		},
		Tracing: TracingConfig{
			Disabled:       getEnvBool("OTEL_SDK_DISABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "webmapapi"),
			Protocol:       getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			TracesEndpoint: getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""),
			Sampler:        getEnv("OTEL_TRACES_SAMPLER", "parentbased_traceidratio"),
			SamplerArg:     getEnv("OTEL_TRACES_SAMPLER_ARG", "1.0"),
		},
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
