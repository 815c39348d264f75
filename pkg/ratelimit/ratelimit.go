// Package ratelimit ограничивает частоту запросов к объединённому порту.
// Хранилище только in-memory: мок-сервер не делит состояние между
// процессами.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Стандартные ошибки
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Limiter интерфейс ограничителя запросов
type Limiter interface {
	// Allow проверяет, разрешён ли запрос
	Allow(ctx context.Context, key string) (bool, error)

	// Reset сбрасывает лимит для ключа
	Reset(ctx context.Context, key string) error

	// Close закрывает лимитер
	Close() error
}

// Config конфигурация rate limiter
type Config struct {
	// Requests количество запросов в окно
	Requests int

	// Window временное окно
	Window time.Duration

	// BurstSize допустимый всплеск сверх равномерной скорости
	BurstSize int

	// CleanupInterval период очистки неактивных ключей
	CleanupInterval time.Duration
}

// New создаёт in-memory лимитер
func New(cfg *Config) (Limiter, error) {
	if cfg == nil || cfg.Requests <= 0 || cfg.Window <= 0 {
		return nil, errors.New("ratelimit: requests and window must be positive")
	}
	return newMemoryLimiter(cfg), nil
}
