package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию rss2mail.
type AppConfig struct {
	AppEnv    string `envconfig:"APP_ENV" default:"prod"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	Source struct {
		URL   string `envconfig:"CONFIG_URL" required:"true"`
		Token string `envconfig:"CONFIG_TOKEN"`
	} `envconfig:""`

	Feed struct {
		Timeout       time.Duration `envconfig:"FEED_TIMEOUT" default:"10s"`
		MaxRedirects  int           `envconfig:"FEED_MAX_REDIRECTS" default:"5"`
		UserAgent     string        `envconfig:"FEED_USER_AGENT" default:"rss2mail/1.0"`
		InsecureRetry bool          `envconfig:"FEED_INSECURE_RETRY" default:"true"`
		Concurrency   int           `envconfig:"FETCH_CONCURRENCY" default:"8"`
	} `envconfig:""`

	Cursor struct {
		Backend string `envconfig:"CURSOR_BACKEND" default:"file"`
		Path    string `envconfig:"CURSOR_PATH" default:"cursor.json"`
	} `envconfig:""`

	Mail struct {
		From        string        `envconfig:"MAIL_FROM" required:"true"`
		To          string        `envconfig:"MAIL_TO" required:"true"`
		Host        string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
		Port        int           `envconfig:"SMTP_PORT" default:"587"`
		Username    string        `envconfig:"SMTP_USERNAME"`
		Password    string        `envconfig:"SMTP_PASSWORD"`
		TLSMode     string        `envconfig:"SMTP_TLS" default:"starttls"`
		Timeout     time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`
		LabelHeader string        `envconfig:"MAIL_LABEL_HEADER" default:"X-Gmail-Labels"`
		RootLabel   string        `envconfig:"MAIL_ROOT_LABEL" default:"RSS Feeds"`
	} `envconfig:""`

	Gmail struct {
		ClientID     string        `envconfig:"GMAIL_CLIENT_ID"`
		ClientSecret string        `envconfig:"GMAIL_CLIENT_SECRET"`
		RefreshToken string        `envconfig:"GMAIL_REFRESH_TOKEN"`
		BaseURL      string        `envconfig:"GMAIL_BASE_URL"`
		Timeout      time.Duration `envconfig:"GMAIL_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Delivery struct {
		MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
		RetryDelay     time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
		EnrichMinWords int           `envconfig:"ENRICH_MIN_WORDS" default:"100"`
		EnrichTimeout  time.Duration `envconfig:"ENRICH_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Seen struct {
		Backend string        `envconfig:"SEEN_BACKEND" default:"none"`
		TTL     time.Duration `envconfig:"SEEN_TTL" default:"2160h"`
	} `envconfig:""`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
		Prefix   string `envconfig:"REDIS_PREFIX" default:"rss2mail:seen:"`
	} `envconfig:""`

	Postgres struct {
		DSN string `envconfig:"PG_DSN"`
	} `envconfig:""`

	SQLite struct {
		Path string `envconfig:"SQLITE_PATH" default:"seen.db"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AlertChatID int64  `envconfig:"TG_ALERT_CHAT_ID"`
	} `envconfig:""`

	Metrics struct {
		Addr           string `envconfig:"METRICS_ADDR"`
		PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	} `envconfig:""`

	HTTP struct {
		Addr string `envconfig:"HTTP_ADDR" default:":8080"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения и проверяет перечислимые значения.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Cursor.Backend {
	case "file":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("CURSOR_BACKEND=postgres требует PG_DSN")
		}
	default:
		return fmt.Errorf("неизвестный CURSOR_BACKEND %q", c.Cursor.Backend)
	}
	switch c.Seen.Backend {
	case "none", "redis", "sqlite":
	default:
		return fmt.Errorf("неизвестный SEEN_BACKEND %q", c.Seen.Backend)
	}
	switch c.Mail.TLSMode {
	case "starttls", "tls", "none":
	default:
		return fmt.Errorf("неизвестный SMTP_TLS %q", c.Mail.TLSMode)
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES не может быть отрицательным")
	}
	return nil
}

// GmailEnabled сообщает, заданы ли учётные данные Gmail API.
func (c AppConfig) GmailEnabled() bool {
	return c.Gmail.ClientID != "" && c.Gmail.ClientSecret != "" && c.Gmail.RefreshToken != ""
}

// TelegramEnabled сообщает, настроены ли уведомления в Telegram.
func (c AppConfig) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.AlertChatID != 0
}
