package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"connectrpc.com/connect"

	"protomock/pkg/config"
	"protomock/pkg/dispatch"
	"protomock/pkg/logger"
	"protomock/pkg/metrics"
	"protomock/pkg/ratelimit"
)

// wildcardRequestHeaders список, в который раскрывается "*" в allowed_headers.
// Браузеры не передают Authorization под wildcard, поэтому перечисляем явно;
// сюда же входят служебные заголовки всех трёх протоколов.
var wildcardRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Content-Language",
	"Content-Type",
	"Authorization",
	"Origin",
	"X-Requested-With",
	"X-Grpc-Web",
	"X-User-Agent",
	"Grpc-Timeout",
	"Connect-Protocol-Version",
	"Connect-Timeout-Ms",
}

// grpc-status и grpc-message обязаны быть видимы браузерному клиенту
var requiredExposedHeaders = []string{"grpc-status", "grpc-message"}

// corsPolicy предвычисленное CORS-решение порта: все заголовки ответа
// собираются один раз при построении, обработчик только применяет их
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool

	// готовые пары заголовок->значение, одинаковые для всех ответов
	static http.Header

	maxAge string
}

func newCORSPolicy(cfg config.CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins: make(map[string]bool, len(cfg.AllowedOrigins)),
		static:  http.Header{},
		maxAge:  strconv.Itoa(cfg.MaxAge),
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[o] = true
	}

	p.static.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	p.static.Set("Access-Control-Allow-Headers", strings.Join(expandRequestHeaders(cfg.AllowedHeaders), ", "))
	if exposed := withRequiredHeaders(cfg.ExposedHeaders); len(exposed) > 0 {
		p.static.Set("Access-Control-Expose-Headers", strings.Join(exposed, ", "))
	}
	if cfg.AllowCredentials {
		p.static.Set("Access-Control-Allow-Credentials", "true")
	}

	return p
}

// allowOrigin возвращает значение Access-Control-Allow-Origin для origin
// запроса; пустая строка означает "заголовок не ставим"
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.anyOrigin:
		return "*"
	case p.origins[origin]:
		return origin
	default:
		return ""
	}
}

func (p *corsPolicy) apply(w http.ResponseWriter, origin string) {
	h := w.Header()
	if allow := p.allowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
	}
	for name, values := range p.static {
		h[name] = values
	}
}

// CORS middleware для объединённого порта
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy.apply(w, r.Header.Get("Origin"))

			// Preflight заканчивается здесь и не считается в метриках
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Max-Age", policy.maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// expandRequestHeaders раскрывает wildcard в конкретный список
func expandRequestHeaders(headers []string) []string {
	for _, h := range headers {
		if h == "*" {
			return wildcardRequestHeaders
		}
	}
	return headers
}

// withRequiredHeaders дописывает обязательные exposed-заголовки без дублей
func withRequiredHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers)+len(requiredExposedHeaders))
	for _, h := range headers {
		key := strings.ToLower(h)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	for _, h := range requiredExposedHeaders {
		if !seen[h] {
			out = append(out, h)
		}
	}
	return out
}

// countRequests ведёт пер-протокольные счётчики объединённого порта.
// Health и preflight сюда не попадают: они обслуживаются раньше.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		protocol := dispatch.DetectProtocol(r.Header.Get("Content-Type"))

		metrics.Get().RequestsInFlight.Inc()
		next.ServeHTTP(w, r)
		metrics.Get().RequestsInFlight.Dec()

		metrics.Get().RecordRequest(string(protocol), r.URL.Path, "handled", time.Since(start))
	})
}

// rateLimitMiddleware ограничивает частоту запросов по адресу клиента
func rateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if host, _, ok := strings.Cut(r.RemoteAddr, ":"); ok {
				key = host
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Log.Warn("Rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewLoggingInterceptor логирует unary-вызовы connect-обработчиков
func NewLoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			procedure := req.Spec().Procedure

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				logger.Log.Error("Request failed",
					"method", procedure,
					"protocol", req.Peer().Protocol,
					"duration_ms", duration.Milliseconds(),
					"error", err,
				)
			} else {
				logger.Log.Info("Request completed",
					"method", procedure,
					"protocol", req.Peer().Protocol,
					"duration_ms", duration.Milliseconds(),
				)
			}

			return resp, err
		}
	}
}
