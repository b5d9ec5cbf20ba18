package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aura-webinar/uploadmgr/internal/platform"
)

// Config holds application configuration loaded from environment and the uploader file.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Queue    QueueConfig
	Uploader UploaderConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	MaxBodyBytes       int64
	CORSAllowedOrigins string // comma-separated, or "*" for all
	HistoryWindow      time.Duration
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

// RedisConfig holds Redis connection settings. Empty Addr disables notifications.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// JWTConfig holds operator token settings. Empty Secret leaves /retry open.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds the S3 archive platform settings.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
	PublicBaseURL   string // optional CDN/base URL for covers
}

// QueuePolicy decides what a full queue does with a new event.
type QueuePolicy string

const (
	QueueBlock  QueuePolicy = "block"
	QueueReject QueuePolicy = "reject"
)

// QueueConfig sizes the in-process job queue.
type QueueConfig struct {
	Capacity int
	Policy   QueuePolicy
}

// RoomConfig is the per-room archive settings.
type RoomConfig struct {
	RoomID      uint64 `yaml:"room_id"`
	Credentials string `yaml:"credentials"` // path to the platform credentials file
	StudioTitle string `yaml:"studio_title"`
	PartTitle   string `yaml:"part_title"`
	Cover       string `yaml:"cover"` // URL, or local file uploaded on first submit
	Description string `yaml:"description"`
	Tags        string `yaml:"tags"`
	TID         uint16 `yaml:"tid"`
}

const defaultSourceBase = "https://live.bilibili.com/"

// UploaderConfig is read from the YAML file named by UPLOADER_CONFIG.
type UploaderConfig struct {
	Version       int                    `yaml:"version"`
	RecDir        string                 `yaml:"rec_dir"`
	Limit         int                    `yaml:"limit"`
	LineName      string                 `yaml:"line"`
	LineEndpoints map[string]string      `yaml:"line_endpoints"`
	SourceBase    string                 `yaml:"source_base"` // archive source link, room id appended
	Rooms         map[uint64]*RoomConfig `yaml:"rooms"`

	Line platform.Line `yaml:"-"`
}

// Room returns the settings for roomID.
func (u *UploaderConfig) Room(roomID uint64) (*RoomConfig, bool) {
	r, ok := u.Rooms[roomID]
	return r, ok && r != nil
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file, then the uploader file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	historyWindow, err := time.ParseDuration(getEnv("HISTORY_WINDOW", "24h"))
	if err != nil {
		return nil, fmt.Errorf("parse HISTORY_WINDOW: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "23380"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 256*1024)),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			HistoryWindow:      historyWindow,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "uploadmgr"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "uploadmgr:jobs"),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", "recording-archives"),
			PublicBaseURL:   getEnv("AWS_S3_PUBLIC_BASE_URL", ""),
		},
		Queue: QueueConfig{
			Capacity: getEnvInt("QUEUE_CAPACITY", 16),
			Policy:   QueuePolicy(strings.ToLower(getEnv("QUEUE_POLICY", string(QueueBlock)))),
		},
	}
	if err := cfg.Queue.validate(); err != nil {
		return nil, err
	}

	uploader, err := LoadUploader(getEnv("UPLOADER_CONFIG", "config.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Uploader = *uploader
	return cfg, nil
}

// LoadUploader reads and validates the uploader YAML file.
func LoadUploader(path string) (*UploaderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read uploader config: %w", err)
	}
	return ParseUploader(raw)
}

// ParseUploader decodes uploader YAML, applies defaults and rejects unknown lines.
func ParseUploader(raw []byte) (*UploaderConfig, error) {
	u := &UploaderConfig{}
	if err := yaml.Unmarshal(raw, u); err != nil {
		return nil, fmt.Errorf("decode uploader config: %w", err)
	}
	if u.Limit <= 0 {
		u.Limit = 3
	}
	if u.SourceBase == "" {
		u.SourceBase = defaultSourceBase
	}
	if u.LineName == "" {
		u.LineName = string(platform.LineAuto)
	}
	line, err := platform.ParseLine(u.LineName)
	if err != nil {
		return nil, fmt.Errorf("uploader config: %w", err)
	}
	u.Line = line
	for name := range u.LineEndpoints {
		l, err := platform.ParseLine(name)
		if err != nil || l == platform.LineAuto {
			return nil, fmt.Errorf("uploader config: line_endpoints: %w: %q", platform.ErrUnknownLine, name)
		}
	}
	for id, room := range u.Rooms {
		if room == nil {
			return nil, fmt.Errorf("uploader config: room %d is empty", id)
		}
		if room.RoomID == 0 {
			room.RoomID = id
		}
		if room.RoomID != id {
			return nil, fmt.Errorf("uploader config: room key %d does not match room_id %d", id, room.RoomID)
		}
	}
	return u, nil
}

func (q QueueConfig) validate() error {
	if q.Capacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", q.Capacity)
	}
	switch q.Policy {
	case QueueBlock, QueueReject:
		return nil
	}
	return fmt.Errorf("QUEUE_POLICY must be %q or %q, got %q", QueueBlock, QueueReject, q.Policy)
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
