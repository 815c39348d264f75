// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "PROTOMOCK_"
	configEnvVar = "CONFIG_PATH"
)

// bareEnvKeys таблица соответствия плоских переменных окружения путям конфигурации.
// Это внешний контракт: эти имена читаются как есть, без префикса.
var bareEnvKeys = map[string]string{
	"HTTP_PORT":                    "http.port",
	"GRPC_PORT_PLAINTEXT":          "grpc.port_plaintext",
	"GRPC_PORT_TLS":                "grpc.port_tls",
	"CONNECT_PORT":                 "connect.port",
	"CONNECT_ENABLED":              "connect.enabled",
	"CONNECT_CORS_ENABLED":         "connect.cors.enabled",
	"CONNECT_CORS_ORIGINS":         "connect.cors.allowed_origins",
	"CONNECT_CORS_METHODS":         "connect.cors.allowed_methods",
	"CONNECT_CORS_HEADERS":         "connect.cors.allowed_headers",
	"CONNECT_CORS_EXPOSED_HEADERS": "connect.cors.exposed_headers",
	"CONNECT_TLS_ENABLED":          "connect.tls.enabled",
	"CONNECT_TLS_CERT_FILE":        "connect.tls.cert_file",
	"CONNECT_TLS_KEY_FILE":         "connect.tls.key_file",
	"VALIDATION_ENABLED":           "validation.enabled",
	"VALIDATION_SOURCE":            "validation.source",
	"VALIDATION_MODE":              "validation.mode",
	"VALIDATION_CEL_MESSAGE":       "validation.cel_message",
	"PROTO_DIR":                    "assets.proto_dir",
	"RULE_DIR":                     "assets.rule_dir",
	"DESCRIPTOR_SET":               "assets.descriptor_set",
}

// listEnvKeys переменные, значения которых разбиваются по запятой
var listEnvKeys = map[string]bool{
	"CONNECT_CORS_ORIGINS":         true,
	"CONNECT_CORS_METHODS":         true,
	"CONNECT_CORS_HEADERS":         true,
	"CONNECT_CORS_EXPOSED_HEADERS": true,
}

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/protomock/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix устанавливает префикс переменных окружения
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Файл не обязателен
	if err := l.loadConfigFile(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "protomock",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// HTTP (админский порт)
		"http.port":             4319,
		"http.read_timeout":     30 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,

		// Нативный gRPC
		"grpc.port_plaintext":                     4770,
		"grpc.port_tls":                           0,
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024, // 16MB
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,
		"grpc.tls.enabled":                        false,

		// Объединённый порт
		"connect.enabled":       true,
		"connect.port":          4771,
		"connect.read_timeout":  0 * time.Second, // стримы живут дольше обычных запросов
		"connect.write_timeout": 0 * time.Second,
		"connect.tls.enabled":   false,

		// CORS
		"connect.cors.enabled":           true,
		"connect.cors.allowed_origins":   []string{"*"},
		"connect.cors.allowed_methods":   []string{"GET", "POST", "OPTIONS"},
		"connect.cors.allowed_headers":   []string{"*"},
		"connect.cors.exposed_headers":   []string{"grpc-status", "grpc-message", "grpc-status-details-bin"},
		"connect.cors.allow_credentials": false,
		"connect.cors.max_age":           86400,

		// Схемы и правила
		"assets.proto_dir":      "uploads/protos",
		"assets.rule_dir":       "uploads/rules",
		"assets.include_paths":  []string{},
		"assets.descriptor_set": "",
		"assets.watch":          false,

		// Валидация
		"validation.enabled":     true,
		"validation.source":      "auto",
		"validation.mode":        "per_message",
		"validation.cel_message": "",

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "protomock",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "protomock",
		"tracing.sample_rate":  0.1,

		// Rate Limit
		"rate_limit.enabled":          false,
		"rate_limit.requests":         100,
		"rate_limit.window":           time.Minute,
		"rate_limit.burst_size":       10,
		"rate_limit.cleanup_interval": 5 * time.Minute,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return os.ErrNotExist
}

// loadEnv загружает конфигурацию из переменных окружения.
// Сначала плоские имена из внешнего контракта, затем префиксованные:
// PROTOMOCK_LOG_LEVEL -> log.level
func (l *Loader) loadEnv() error {
	err := l.k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		path, ok := bareEnvKeys[key]
		if !ok {
			return "", nil
		}
		if listEnvKeys[key] {
			return path, splitList(value)
		}
		return path, value
	}), nil)
	if err != nil {
		return err
	}

	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load() (*Config, error) {
	return NewLoader().Load()
}
