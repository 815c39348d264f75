// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App        AppConfig        `koanf:"app"`
	HTTP       HTTPConfig       `koanf:"http"`
	GRPC       GRPCConfig       `koanf:"grpc"`
	Connect    ConnectConfig    `koanf:"connect"`
	Assets     AssetsConfig     `koanf:"assets"`
	Validation ValidationConfig `koanf:"validation"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Tracing    TracingConfig    `koanf:"tracing"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// HTTPConfig - настройки админского HTTP порта
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// GRPCConfig - настройки нативного gRPC порта
type GRPCConfig struct {
	PortPlaintext     int             `koanf:"port_plaintext"`
	PortTLS           int             `koanf:"port_tls"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"` // bytes
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig - настройки keep-alive
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig - настройки TLS
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// ConnectConfig - настройки объединённого порта (Connect + gRPC-Web + gRPC)
type ConnectConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	CORS         CORSConfig    `koanf:"cors"`
	TLS          TLSConfig     `koanf:"tls"`
}

// CORSConfig - настройки CORS
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	ExposedHeaders   []string `koanf:"exposed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// AssetsConfig - каталоги схем и правил
type AssetsConfig struct {
	ProtoDir      string   `koanf:"proto_dir"`
	RuleDir       string   `koanf:"rule_dir"`
	IncludePaths  []string `koanf:"include_paths"`
	DescriptorSet string   `koanf:"descriptor_set"` // pre-generated FileDescriptorSet для reflection
	Watch         bool     `koanf:"watch"`
}

// ValidationConfig - режимы валидации запросов
type ValidationConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Source     string `koanf:"source"`      // auto, pgv, protovalidate
	Mode       string `koanf:"mode"`        // per_message, aggregate
	CELMessage string `koanf:"cel_message"` // experimental включает message-level CEL
}

// CELMessageEnabled проверяет, включён ли message-level CEL
func (v ValidationConfig) CELMessageEnabled() bool {
	return strings.EqualFold(v.CELMessage, "experimental")
}

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`  // debug, info, warn, error
	Format     string `koanf:"format"` // json, text
	Output     string `koanf:"output"` // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"` // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"` // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// RateLimitConfig - настройки rate limiting на объединённом порту
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	var errs []string

	checkPort := func(name string, port int) {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 65535, got %d", name, port))
		}
	}
	checkPort("http.port", c.HTTP.Port)
	checkPort("grpc.port_plaintext", c.GRPC.PortPlaintext)
	checkPort("grpc.port_tls", c.GRPC.PortTLS)
	checkPort("connect.port", c.Connect.Port)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	validSources := map[string]bool{"auto": true, "pgv": true, "protovalidate": true}
	if !validSources[strings.ToLower(c.Validation.Source)] {
		errs = append(errs, fmt.Sprintf("validation.source must be one of: auto, pgv, protovalidate, got %s", c.Validation.Source))
	}

	validModes := map[string]bool{"per_message": true, "aggregate": true}
	if !validModes[strings.ToLower(c.Validation.Mode)] {
		errs = append(errs, fmt.Sprintf("validation.mode must be one of: per_message, aggregate, got %s", c.Validation.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment проверяет режим разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет продакшн режим
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
