package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradecore/internal/bot"
	"tradecore/internal/exchange"
	"tradecore/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
	Logging  LoggingConfig

	// StrategyFile - YAML с порогами стратегии; пусто - пороги по умолчанию
	StrategyFile string
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns   int
	ConnectRetries int
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey - 32 байта AES-256 для ключей бирж в БД
	EncryptionKey string

	// Секрет вебхука: открытый текст или bcrypt хеш
	WebhookSecret     string
	WebhookSecretHash string

	// Ограничение вебхука на IP: запросов в секунду и пачка
	WebhookRate  float64
	WebhookBurst int
}

// ExchangeConfig - биржа и аккаунт торгового цикла
type ExchangeConfig struct {
	Name        string
	Environment exchange.Environment
	Account     string
	// AccountID > 0 - ключи берутся из exchange_accounts, иначе из окружения
	AccountID  int64
	QuoteAsset string
}

// TradingConfig - параметры торгового цикла
type TradingConfig struct {
	TickInterval              time.Duration
	EnableTrading             bool
	MaxConcurrentSetups       int
	MaxConcurrentTrades       int
	RiskPerTradePercent       float64
	PauseOnVolatilitySpike    bool
	VolatilitySpikeMultiplier float64
	CandleHistory             int
	// CooldownMinutes > 0 переопределяет значение из файла стратегии
	CooldownMinutes int
	// LimiterStatsInterval - как часто выгружать состояние лимитеров в метрики
	LimiterStatsInterval time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из .env и переменных окружения
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			Name:           getEnv("DB_NAME", "tradecore"),
			User:           getEnv("DB_USER", "tradecore"),
			Password:       getEnv("DB_PASSWORD", ""),
			SSLMode:        getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			ConnectRetries: getEnvAsInt("DB_CONNECT_RETRIES", 5),
		},
		Security: SecurityConfig{
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
			WebhookSecretHash: getEnv("WEBHOOK_SECRET_HASH", ""),
			WebhookRate:       getEnvAsFloat("WEBHOOK_RATE", 20),
			WebhookBurst:      getEnvAsInt("WEBHOOK_BURST", 50),
		},
		Exchange: ExchangeConfig{
			Name:        strings.ToLower(getEnv("EXCHANGE", "bybit")),
			Environment: exchange.ParseEnvironment(getEnv("EXCHANGE_ENV", "testnet")),
			Account:     getEnv("EXCHANGE_ACCOUNT", "default"),
			AccountID:   int64(getEnvAsInt("EXCHANGE_ACCOUNT_ID", 0)),
			QuoteAsset:  strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
		},
		Trading: TradingConfig{
			TickInterval:              getEnvAsDuration("TICK_INTERVAL", time.Minute),
			EnableTrading:             getEnvAsBool("ENABLE_TRADING", false),
			MaxConcurrentSetups:       getEnvAsInt("MAX_CONCURRENT_SETUPS", 10),
			MaxConcurrentTrades:       getEnvAsInt("MAX_CONCURRENT_TRADES", 5),
			RiskPerTradePercent:       getEnvAsFloat("RISK_PER_TRADE_PERCENT", 0.01),
			PauseOnVolatilitySpike:    getEnvAsBool("PAUSE_ON_VOLATILITY_SPIKE", true),
			VolatilitySpikeMultiplier: getEnvAsFloat("VOLATILITY_SPIKE_MULTIPLIER", 2.0),
			CandleHistory:             getEnvAsInt("CANDLE_HISTORY", 120),
			CooldownMinutes:           getEnvAsInt("COOLDOWN_MINUTES", 0),
			LimiterStatsInterval:      getEnvAsDuration("LIMITER_STATS_INTERVAL", 15*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		StrategyFile: getEnv("STRATEGY_FILE", ""),
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ключ нужен для расшифровки ключей бирж из БД
	if c.Exchange.AccountID > 0 || c.Security.EncryptionKey != "" {
		if err := crypto.ValidateKey([]byte(c.Security.EncryptionKey)); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
	}

	switch {
	case c.Security.WebhookSecretHash != "":
		if _, err := crypto.GetHashCost(c.Security.WebhookSecretHash); err != nil {
			return fmt.Errorf("WEBHOOK_SECRET_HASH is not a bcrypt hash: %w", err)
		}
	case c.Security.WebhookSecret == "":
		return fmt.Errorf("WEBHOOK_SECRET or WEBHOOK_SECRET_HASH is required")
	case len(c.Security.WebhookSecret) < 16:
		return fmt.Errorf("WEBHOOK_SECRET must be at least 16 characters")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.ConnectRetries < 0 || c.Database.ConnectRetries > 20 {
		return fmt.Errorf("DB_CONNECT_RETRIES must be between 0 and 20, got %d", c.Database.ConnectRetries)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns)
	}

	if c.Security.WebhookRate <= 0 {
		return fmt.Errorf("WEBHOOK_RATE must be positive, got %v", c.Security.WebhookRate)
	}
	if c.Security.WebhookBurst < 1 {
		return fmt.Errorf("WEBHOOK_BURST must be at least 1, got %d", c.Security.WebhookBurst)
	}

	if !exchange.NewRegistry().IsSupported(c.Exchange.Name) {
		return fmt.Errorf("EXCHANGE %q is not supported", c.Exchange.Name)
	}

	t := c.Trading
	if t.TickInterval < time.Second {
		return fmt.Errorf("TICK_INTERVAL must be at least 1s, got %v", t.TickInterval)
	}
	if t.MaxConcurrentSetups < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SETUPS must be positive, got %d", t.MaxConcurrentSetups)
	}
	if t.MaxConcurrentTrades < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TRADES must be positive, got %d", t.MaxConcurrentTrades)
	}
	if t.RiskPerTradePercent <= 0 || t.RiskPerTradePercent > 0.1 {
		return fmt.Errorf("RISK_PER_TRADE_PERCENT must be in (0, 0.1], got %v", t.RiskPerTradePercent)
	}
	if t.VolatilitySpikeMultiplier <= 1 {
		return fmt.Errorf("VOLATILITY_SPIKE_MULTIPLIER must be greater than 1, got %v", t.VolatilitySpikeMultiplier)
	}
	if t.CandleHistory < 60 {
		return fmt.Errorf("CANDLE_HISTORY must be at least 60, got %d", t.CandleHistory)
	}
	if t.CooldownMinutes < 0 {
		return fmt.Errorf("COOLDOWN_MINUTES cannot be negative, got %d", t.CooldownMinutes)
	}
	if t.LimiterStatsInterval <= 0 {
		return fmt.Errorf("LIMITER_STATS_INTERVAL must be positive, got %v", t.LimiterStatsInterval)
	}

	return nil
}

// LoopConfig собирает параметры торгового цикла
func (c *Config) LoopConfig() bot.LoopConfig {
	lc := bot.DefaultLoopConfig()
	lc.Account = c.Exchange.Account
	lc.EnableTrading = c.Trading.EnableTrading
	lc.MaxConcurrentSetups = c.Trading.MaxConcurrentSetups
	lc.MaxConcurrentTrades = c.Trading.MaxConcurrentTrades
	lc.RiskPerTradePercent = c.Trading.RiskPerTradePercent
	lc.PauseOnVolatilitySpike = c.Trading.PauseOnVolatilitySpike
	lc.VolatilitySpikeMultiplier = c.Trading.VolatilitySpikeMultiplier
	lc.CandleHistory = c.Trading.CandleHistory
	return lc
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword - строка подключения для логов
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
