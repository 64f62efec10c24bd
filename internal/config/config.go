// Пакет config — загрузка и валидация конфигурации Contract Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Contract Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT (опционально; пустой JWKS URL — API без аутентификации) ---

	// URL JWKS endpoint
	JWTJWKSURL string
	// Issuer JWT (опционально)
	JWTIssuer string

	// --- Подписание документов ---

	// Включено ли подписание договоров
	SigningEnabled bool
	// Базовый URL внешнего сервиса подписи (пусто — degraded fallback)
	SignerURL string
	// Bearer-токен для сервиса подписи
	SignerToken string
	// URL внешнего сервиса валидации подписи (пусто — только локальные проверки)
	ValidatorURL string
	// TTL подписи в днях (0 — подпись не истекает)
	SignatureTTLDays int

	// --- Рендеринг ---

	// URL сервиса рендеринга документов
	RendererURL string

	// --- Хранилище ---

	// Директория хранения документов договоров
	ContractsDir string
	// Директория WORM-реплики журнала аудита
	AuditDir string

	// --- Подписанные ссылки ---

	// Секрет HMAC для ссылок скачивания
	LinkSecret string
	// Время жизни ссылки скачивания
	LinkTTL time.Duration

	// --- Внешние вызовы ---

	// Таймаут запросов к внешним сервисам (подпись, валидация, рендеринг)
	RemoteTimeout time.Duration

	// --- Мониторинг зависимостей ---

	// Имя группы topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("CM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	// CM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// CM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("CM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// CM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_PORT: %w", err)
	}

	// CM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("CM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// CM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("CM_DB_USER")
	if err != nil {
		return nil, err
	}

	// CM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// CM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// CM_JWT_JWKS_URL — опционально; пустое значение отключает аутентификацию API
	cfg.JWTJWKSURL = getEnvDefault("CM_JWT_JWKS_URL", "")

	// CM_JWT_ISSUER — опционально
	cfg.JWTIssuer = getEnvDefault("CM_JWT_ISSUER", "")

	// --- Подписание документов ---

	// CM_SIGNING_ENABLED — включено ли подписание (по умолчанию true)
	cfg.SigningEnabled, err = getEnvBool("CM_SIGNING_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("CM_SIGNING_ENABLED: %w", err)
	}

	// CM_SIGNER_URL — базовый URL сервиса подписи (опционально)
	cfg.SignerURL = strings.TrimRight(getEnvDefault("CM_SIGNER_URL", ""), "/")

	// CM_SIGNER_TOKEN — bearer-токен сервиса подписи
	cfg.SignerToken = getEnvDefault("CM_SIGNER_TOKEN", "")

	// CM_VALIDATOR_URL — URL сервиса валидации (опционально)
	cfg.ValidatorURL = getEnvDefault("CM_VALIDATOR_URL", "")

	// CM_SIGNATURE_TTL_DAYS — TTL подписи в днях (по умолчанию 0 — без истечения)
	cfg.SignatureTTLDays, err = getEnvInt("CM_SIGNATURE_TTL_DAYS", 0)
	if err != nil {
		return nil, fmt.Errorf("CM_SIGNATURE_TTL_DAYS: %w", err)
	}
	if cfg.SignatureTTLDays < 0 {
		return nil, fmt.Errorf("CM_SIGNATURE_TTL_DAYS: значение %d не может быть отрицательным", cfg.SignatureTTLDays)
	}

	// --- Рендеринг ---

	// CM_RENDERER_URL — обязательный
	cfg.RendererURL, err = getEnvRequired("CM_RENDERER_URL")
	if err != nil {
		return nil, err
	}
	cfg.RendererURL = strings.TrimRight(cfg.RendererURL, "/")

	// --- Хранилище ---

	// CM_CONTRACTS_DIR — обязательный
	cfg.ContractsDir, err = getEnvRequired("CM_CONTRACTS_DIR")
	if err != nil {
		return nil, err
	}

	// CM_AUDIT_DIR — обязательный
	cfg.AuditDir, err = getEnvRequired("CM_AUDIT_DIR")
	if err != nil {
		return nil, err
	}

	// --- Подписанные ссылки ---

	// CM_LINK_SECRET — обязательный, минимум 16 символов
	cfg.LinkSecret, err = getEnvRequired("CM_LINK_SECRET")
	if err != nil {
		return nil, err
	}
	if len(cfg.LinkSecret) < 16 {
		return nil, fmt.Errorf("CM_LINK_SECRET: длина %d меньше минимальной (16 символов)", len(cfg.LinkSecret))
	}

	// CM_LINK_TTL — время жизни ссылки скачивания (по умолчанию 15m)
	cfg.LinkTTL, err = getEnvDuration("CM_LINK_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_LINK_TTL: %w", err)
	}

	// --- Внешние вызовы ---

	// CM_REMOTE_TIMEOUT — таймаут внешних запросов (по умолчанию 15s)
	cfg.RemoteTimeout, err = getEnvDuration("CM_REMOTE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_REMOTE_TIMEOUT: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// CM_DEPHEALTH_GROUP — имя группы topologymetrics (по умолчанию silentoakranch)
	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "silentoakranch")

	// CM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// CM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (используется topologymetrics для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
