// Пакет config — загрузка и валидация конфигурации DOI Registrar
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации DOI Registrar.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- CrossRef ---

	// Базовый URL регистрационного агентства
	CrossRefURL string
	// Логин и пароль deposit API (непрозрачные строки)
	CrossRefUsername string
	CrossRefPassword string
	// Таймаут запросов к CrossRef (по умолчанию 30s)
	CrossRefTimeout time.Duration
	// Путь к CA-сертификату для TLS к CrossRef (опционально)
	CrossRefCACertPath string

	// --- Метаданные ---

	// Депонент (depositor_name в deposit XML)
	Depositor string
	// Email депонента
	DepositorEmail string
	// Название организации (root collection)
	Institution string
	// Базовый URL сайта для landing page (resource в doi_data)
	SiteURL string
	// Путь к шаблону deposit XML (пустой — встроенный шаблон)
	MetadataTemplatePath string

	// --- Генерация идентификаторов ---

	// Префикс DOI (authority), например 10.5072
	DOIAuthority string
	// Shoulder — начало суффикса, например FK2/
	DOIShoulder string

	// --- Кэш метаданных CrossRef ---

	LookupCacheSize int
	LookupCacheTTL  time.Duration

	// --- JWT ---

	// URL JWKS (пустой — аутентификация отключена)
	JWTJWKSURL string
	// Ожидаемый issuer (пустой — не проверяется)
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWKSCACertPath      string
	RoleAdminGroups     []string
	RoleReadonlyGroups  []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// validSSLModes — допустимые значения DR_DB_SSL_MODE.
var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:funlen,cyclop // линейная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DR_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DR_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DR_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("DR_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("DR_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DR_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DR_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DR_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DR_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DR_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DR_DB_SSL_MODE", "disable")
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- CrossRef ---

	if cfg.CrossRefURL, err = getEnvRequired("DR_CROSSREF_URL"); err != nil {
		return nil, err
	}
	if err := validateURL(cfg.CrossRefURL); err != nil {
		return nil, fmt.Errorf("DR_CROSSREF_URL: %w", err)
	}
	cfg.CrossRefURL = strings.TrimRight(cfg.CrossRefURL, "/")

	if cfg.CrossRefUsername, err = getEnvRequired("DR_CROSSREF_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.CrossRefPassword, err = getEnvRequired("DR_CROSSREF_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.CrossRefTimeout, err = getEnvDurationPositive("DR_CROSSREF_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_CROSSREF_TIMEOUT: %w", err)
	}
	cfg.CrossRefCACertPath = getEnvDefault("DR_CROSSREF_CA_CERT_PATH", "")

	// --- Метаданные ---

	cfg.Depositor = getEnvDefault("DR_DEPOSITOR", "")
	cfg.DepositorEmail = getEnvDefault("DR_DEPOSITOR_EMAIL", "")
	cfg.Institution = getEnvDefault("DR_INSTITUTION", "")
	if cfg.SiteURL, err = getEnvRequired("DR_SITE_URL"); err != nil {
		return nil, err
	}
	if err := validateURL(cfg.SiteURL); err != nil {
		return nil, fmt.Errorf("DR_SITE_URL: %w", err)
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	cfg.MetadataTemplatePath = getEnvDefault("DR_METADATA_TEMPLATE_PATH", "")

	// --- Генерация идентификаторов ---

	cfg.DOIAuthority = getEnvDefault("DR_DOI_AUTHORITY", "10.5072")
	cfg.DOIShoulder = getEnvDefault("DR_DOI_SHOULDER", "FK2/")

	// --- Кэш метаданных CrossRef ---

	cfg.LookupCacheSize, err = getEnvInt("DR_LOOKUP_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DR_LOOKUP_CACHE_SIZE: %w", err)
	}
	if cfg.LookupCacheSize < 1 {
		return nil, fmt.Errorf("DR_LOOKUP_CACHE_SIZE: значение должно быть > 0")
	}
	cfg.LookupCacheTTL, err = getEnvDurationPositive("DR_LOOKUP_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DR_LOOKUP_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("DR_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("DR_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("DR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("DR_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("DR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSCACertPath = getEnvDefault("DR_JWKS_CA_CERT_PATH", "")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("DR_ROLE_ADMIN_GROUPS", "artstore-admins"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("DR_ROLE_READONLY_GROUPS", "artstore-viewers"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DR_DEPHEALTH_GROUP", "artstore")
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("DR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("DR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// AuthEnabled — включена ли JWT-аутентификация API.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для метрик topologymetrics).
// scheme — postgres для dephealth, pgx5 для golang-migrate.
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
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

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// validateURL проверяет, что значение — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("некорректный URL %q: ожидается схема http или https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("некорректный URL %q: не указан хост", raw)
	}
	return nil
}

// parseCSV разбирает строку, разделённую запятыми, в срез (пустые элементы отбрасываются).
func parseCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
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
