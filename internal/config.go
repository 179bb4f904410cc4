package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// ErrInvalidConfig wraps every validation failure returned by LoadConfig.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Facebook Page + linked Instagram account share one long-lived Page token.
	FacebookEnabled     bool   `env:"FACEBOOK_ENABLED, default=true"`
	FacebookPageID      string `env:"FACEBOOK_PAGE_ID" validate:"required_if=FacebookEnabled true"`
	FacebookAccessToken string `env:"FACEBOOK_ACCESS_TOKEN" validate:"required_if=FacebookEnabled true"`
	GraphAPIBaseURL     string `env:"GRAPH_API_BASE_URL, default=https://graph.facebook.com" validate:"required,url"`
	GraphAPIVersion     string `env:"GRAPH_API_VERSION, default=v18.0" validate:"required"`

	YouTubeEnabled           bool   `env:"YOUTUBE_ENABLED, default=true"`
	YouTubeClientSecretsFile string `env:"YOUTUBE_CLIENT_SECRETS_FILE, default=client_secrets.json" validate:"required_if=YouTubeEnabled true"`
	YouTubeTokenFile         string `env:"YOUTUBE_TOKEN_FILE, default=youtube_credentials.json" validate:"required_if=YouTubeEnabled true"`
	YouTubeCategoryID        string `env:"YOUTUBE_CATEGORY_ID, default=27"`
	YouTubePrivacyStatus     string `env:"YOUTUBE_PRIVACY_STATUS, default=public" validate:"oneof=public unlisted private"`
	YouTubeChunkSize         int    `env:"YOUTUBE_CHUNK_SIZE, default=8388608" validate:"min=262144"`
	// YouTubeBaseURL overrides the Data API root; empty means the library default.
	YouTubeBaseURL string `env:"YOUTUBE_BASE_URL"`

	TelegramEnabled  bool   `env:"TELEGRAM_ENABLED, default=false"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`

	// Optional S3 storage for YouTube secrets/tokens and s3:// video sources.
	S3Endpoint   string `env:"S3_ENDPOINT"`
	S3Region     string `env:"S3_REGION" validate:"required_with=S3Bucket"`
	S3Bucket     string `env:"S3_BUCKET"`
	S3AccessKey  string `env:"S3_ACCESS_KEY" validate:"required_with=S3Bucket"`
	S3SecretKey  string `env:"S3_SECRET_ACCESS_KEY" validate:"required_with=S3Bucket"`
	TokensPrefix string `env:"TOKENS_PREFIX, default=tokens/"`

	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT, default=30s" validate:"gt=0"`
	TransferTimeout   time.Duration `env:"TRANSFER_TIMEOUT, default=10m" validate:"gt=0"`
	TokenCheckTimeout time.Duration `env:"TOKEN_CHECK_TIMEOUT, default=10s" validate:"gt=0"`

	UploadMaxAttempts int           `env:"UPLOAD_MAX_ATTEMPTS, default=3" validate:"min=1"`
	UploadRetryBase   time.Duration `env:"UPLOAD_RETRY_BASE, default=5s"`
	UploadConcurrent  bool          `env:"UPLOAD_CONCURRENT, default=true"`

	InstagramPollInterval time.Duration `env:"INSTAGRAM_POLL_INTERVAL, default=5s"`
	InstagramPollAttempts int           `env:"INSTAGRAM_POLL_ATTEMPTS, default=10" validate:"min=0"`

	TokenAlertDays int `env:"TOKEN_ALERT_DAYS, default=5"`

	LogFile string `env:"LOG_FILE, default=errors.log"`
	Debug   bool   `env:"DEBUG, default=false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	cfg.GraphAPIBaseURL = strings.TrimRight(cfg.GraphAPIBaseURL, "/")
	cfg.S3AccessKey = firstNonEmpty(cfg.S3AccessKey, os.Getenv("S3_ACCESS_KEY_ID"))
	cfg.S3SecretKey = firstNonEmpty(cfg.S3SecretKey, os.Getenv("S3_SECRET_ACCESS_KEY_ID"))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first group of missing or malformed settings.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
}

func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// GraphURL joins the versioned Graph API root with the given path segments.
func (c Config) GraphURL(parts ...string) string {
	base := strings.TrimRight(c.GraphAPIBaseURL, "/")
	if c.GraphAPIVersion != "" {
		base += "/" + c.GraphAPIVersion
	}
	for _, p := range parts {
		base += "/" + strings.Trim(p, "/")
	}
	return base
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
