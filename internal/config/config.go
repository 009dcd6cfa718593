package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PF_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PF_DB_MAX_CONNS" default:"8"`

	SearchIndexPath string `envconfig:"SEARCH_INDEX_PATH" default:"data/papers.bleve"`

	ImportBatchSize     int    `envconfig:"IMPORT_BATCH_SIZE" default:"1000"`
	ImportLookupChunk   int    `envconfig:"IMPORT_LOOKUP_CHUNK" default:"500"`
	ImportLookupWorkers int    `envconfig:"IMPORT_LOOKUP_WORKERS" default:"4"`
	PublishDeadlineHour int    `envconfig:"PUBLISH_DEADLINE_HOUR" default:"16"`
	ArchiveBaseURL      string `envconfig:"ARCHIVE_BASE_URL" default:"http://arxiv.org"`
	FeedTaxonomyFile    string `envconfig:"FEED_TAXONOMY_FILE" default:""`

	AlertSinks       string `envconfig:"ALERT_SINKS" default:"log"`
	AlertQueueSize   int    `envconfig:"ALERT_QUEUE_SIZE" default:"64"`
	DiscordBotToken  string `envconfig:"DISCORD_BOT_TOKEN" default:""`
	DiscordChannelID string `envconfig:"DISCORD_CHANNEL_ID" default:""`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" default:"0"`

	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:""`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:""`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:""`

	HTTPHost         string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort         int    `envconfig:"HTTP_PORT" default:"8090"`
	ImportCron       string `envconfig:"IMPORT_CRON" default:""`
	ImportCronSource string `envconfig:"IMPORT_CRON_SOURCE" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PF_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PF_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PF_DB_MIN_CONNS (%d) cannot exceed PF_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ImportBatchSize < 1 {
		return fmt.Errorf("IMPORT_BATCH_SIZE must be >= 1")
	}
	if c.ImportLookupChunk < 1 {
		return fmt.Errorf("IMPORT_LOOKUP_CHUNK must be >= 1")
	}
	if c.ImportLookupWorkers < 1 {
		return fmt.Errorf("IMPORT_LOOKUP_WORKERS must be >= 1")
	}
	if c.PublishDeadlineHour < 0 || c.PublishDeadlineHour > 19 {
		return fmt.Errorf("PUBLISH_DEADLINE_HOUR must be within 0..19")
	}
	if strings.TrimSpace(c.ArchiveBaseURL) == "" {
		return fmt.Errorf("ARCHIVE_BASE_URL is required")
	}
	if c.AlertQueueSize < 1 {
		return fmt.Errorf("ALERT_QUEUE_SIZE must be >= 1")
	}
	for _, sink := range c.AlertSinkList() {
		switch sink {
		case "log":
		case "discord":
			if strings.TrimSpace(c.DiscordBotToken) == "" || strings.TrimSpace(c.DiscordChannelID) == "" {
				return fmt.Errorf("ALERT_SINKS=discord requires DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID")
			}
		case "telegram":
			if strings.TrimSpace(c.TelegramBotToken) == "" || c.TelegramChatID == 0 {
				return fmt.Errorf("ALERT_SINKS=telegram requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
			}
		default:
			return fmt.Errorf("unknown alert sink %q", sink)
		}
	}
	if (strings.TrimSpace(c.ImportCron) == "") != (strings.TrimSpace(c.ImportCronSource) == "") {
		return fmt.Errorf("IMPORT_CRON and IMPORT_CRON_SOURCE must be set together")
	}
	return nil
}

// AlertSinkList returns the configured alert sinks, lowercased and de-duplicated.
func (c *Config) AlertSinkList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.AlertSinks, ",")
	sinks := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		sink := strings.ToLower(strings.TrimSpace(part))
		if sink == "" {
			continue
		}
		if _, exists := seen[sink]; exists {
			continue
		}
		seen[sink] = struct{}{}
		sinks = append(sinks, sink)
	}
	return sinks
}

// Storage holds only the object-store settings, for commands that read feeds
// without touching the database.
type Storage struct {
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:""`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:""`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:""`
}

func LoadStorage() (Storage, error) {
	var s Storage
	if err := envconfig.Process("", &s); err != nil {
		return Storage{}, err
	}
	return s, nil
}

// Storage returns the object-store subset of c.
func (c *Config) Storage() Storage {
	return Storage{
		S3Region:    c.S3Region,
		S3Endpoint:  c.S3Endpoint,
		S3AccessKey: c.S3AccessKey,
		S3SecretKey: c.S3SecretKey,
	}
}
