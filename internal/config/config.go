// Package config загружает конфигурацию аркады из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Хранилища ledger.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS"`
	AdminIDs         []int64 `envconfig:"-"` // заполним вручную
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	// Группа, в которой идут игры; 0 — любые чаты
	ArcadeChatID int64 `envconfig:"ARCADE_CHAT_ID" default:"0"`

	// --- Database ---
	// В Docker дефолт "postgres" (имя сервиса в docker-compose), для локалки DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"arcade"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"ruby_arcade"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Ledger ---
	LedgerBackend       string `envconfig:"LEDGER_BACKEND" default:"postgres"`
	LedgerSQLitePath    string `envconfig:"LEDGER_SQLITE_PATH" default:"ruby_arcade.db"`
	LedgerNotifyChannel string `envconfig:"LEDGER_NOTIFY_CHANNEL" default:"ledger_changes"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH"`

	// --- Arcade ---
	ArcadeCatalogPath string        `envconfig:"ARCADE_CATALOG_PATH" default:""`
	ArcadeSessionIdle time.Duration `envconfig:"ARCADE_SESSION_IDLE" default:"10m"`
	// Переопределяет шанс находки для всех игр; < 0 — оставить из каталога
	ArcadePickupChance float64 `envconfig:"ARCADE_PICKUP_CHANCE" default:"-1"`
	ArcadeReapSchedule string  `envconfig:"ARCADE_REAP_SCHEDULE" default:"@every 1m"`
	ArcadeGiftSchedule string  `envconfig:"ARCADE_GIFT_SCHEDULE" default:"0 12 * * *"`

	// --- HTTP ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureBotEnabled       bool `envconfig:"FEATURE_BOT_ENABLED" default:"true"`
	FeatureHTTPEnabled      bool `envconfig:"FEATURE_HTTP_ENABLED" default:"true"`
	FeatureDailyGiftEnabled bool `envconfig:"FEATURE_DAILY_GIFT_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// UsesPostgres сообщает, нужен ли пул PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.LedgerBackend == BackendPostgres
}

func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case BackendPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для LEDGER_BACKEND=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case BackendSQLite:
		if c.LedgerSQLitePath == "" {
			return fmt.Errorf("LEDGER_SQLITE_PATH не задан")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("неизвестный LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.FeatureBotEnabled {
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN не задан")
		}
		if c.BotMaxInflight <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
		}
		if c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
		}
	}
	if c.ArcadeSessionIdle <= 0 {
		return fmt.Errorf("ARCADE_SESSION_IDLE должен быть > 0")
	}
	if c.ArcadePickupChance > 1 {
		return fmt.Errorf("ARCADE_PICKUP_CHANCE должен быть ≤ 1")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
