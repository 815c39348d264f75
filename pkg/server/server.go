package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/descriptorpb"

	"protomock/pkg/config"
	"protomock/pkg/dispatch"
	"protomock/pkg/logger"
	"protomock/pkg/metrics"
	"protomock/pkg/ratelimit"
	"protomock/pkg/rules"
	"protomock/pkg/schema"
	"protomock/pkg/validation"
)

// Snapshot неизменяемое состояние одного поколения: граф, IR, правила,
// таблица сервисов и диспетчер поверх них. Вызовы в полёте держат ссылку
// на свой снапшот до завершения.
type Snapshot struct {
	Graph         *schema.Graph
	Registry      *schema.Registry
	IRs           map[string]*validation.IR
	Rules         *rules.Index
	Dispatcher    *dispatch.Dispatcher
	ReflectionSet *descriptorpb.FileDescriptorSet

	SchemaReport *schema.Report
	RuleReport   *rules.Report
}

// BuildSnapshot собирает полный снапшот из каталогов конфигурации.
// Всё строится до конца; подмена выполняется одним присваиванием.
func BuildSnapshot(cfg *config.Config) (*Snapshot, error) {
	graph, schemaReport, err := schema.Load(cfg.Assets.ProtoDir, cfg.Assets.IncludePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	registry := schema.NewRegistry(graph)
	irs := validation.Extract(graph, validation.ParseSourceFilter(cfg.Validation.Source))

	index, ruleReport, err := rules.Load(cfg.Assets.RuleDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	engine := validation.NewEngine(validation.Options{
		EnforceMessageCEL: cfg.Validation.CELMessageEnabled(),
	})

	dispatcher := dispatch.New(registry, irs, index, engine, metrics.Default(), dispatch.Options{
		ValidationEnabled: cfg.Validation.Enabled,
		ValidationMode:    cfg.Validation.Mode,
	})

	snap := &Snapshot{
		Graph:        graph,
		Registry:     registry,
		IRs:          irs,
		Rules:        index,
		Dispatcher:   dispatcher,
		SchemaReport: schemaReport,
		RuleReport:   ruleReport,
	}

	if cfg.Assets.DescriptorSet != "" {
		set, err := schema.LoadDescriptorSet(cfg.Assets.DescriptorSet)
		if err != nil {
			logger.Log.Warn("Reflection disabled: descriptor set unavailable",
				"path", cfg.Assets.DescriptorSet, "error", err)
		} else {
			snap.ReflectionSet = set
		}
	}

	return snap, nil
}

// swapHandler http.Handler с атомарной подменой вложенного обработчика
type swapHandler struct {
	ptr atomic.Pointer[http.Handler]
}

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.ptr.Load()).ServeHTTP(w, r)
}

// Server фасад RPC: объединённый порт и нативные gRPC порты
type Server struct {
	cfg     *config.Config
	snap    atomic.Pointer[Snapshot]
	connect *swapHandler
	limiter ratelimit.Limiter

	httpServer    *http.Server
	grpcPlaintext *grpc.Server
	grpcTLS       *grpc.Server
}

// New строит сервер с первым снапшотом
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, connect: &swapHandler{}}

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
		})
		if err != nil {
			logger.Log.Warn("Failed to create rate limiter, continuing without it", "error", err)
		} else {
			s.limiter = limiter
		}
	}

	snap, err := BuildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	s.install(snap)

	return s, nil
}

// Snapshot возвращает текущий снапшот
func (s *Server) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Handler возвращает обработчик объединённого порта (для тестов)
func (s *Server) Handler() http.Handler {
	return s.connect
}

// Reload строит новый снапшот и атомарно подменяет текущий.
// Вызовы в полёте продолжают работать на старом.
func (s *Server) Reload() error {
	snap, err := BuildSnapshot(s.cfg)
	if err != nil {
		metrics.Get().ReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	s.install(snap)
	metrics.Get().ReloadsTotal.WithLabelValues("ok").Inc()
	logger.Log.Info("Snapshot reloaded",
		"services", len(snap.Registry.Services()),
		"rules", snap.Rules.Len(),
	)
	return nil
}

func (s *Server) install(snap *Snapshot) {
	handler := buildConnectHandler(s.cfg, snap, s.limiter)
	s.connect.ptr.Store(&handler)
	s.snap.Store(snap)
}

// Run запускает все порты и блокируется до сигнала завершения.
// Невозможность занять порт фатальна; остальные ошибки - нет.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	if s.cfg.Connect.Enabled {
		if err := s.startConnectPort(ctx, errCh); err != nil {
			return err
		}
	}

	if err := s.startGRPCPorts(ctx, errCh); err != nil {
		return err
	}

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(s.cfg.App.Version, s.cfg.App.Environment)
	}

	return s.waitForShutdown(errCh)
}

func (s *Server) startConnectPort(ctx context.Context, errCh chan error) error {
	addr := fmt.Sprintf(":%d", s.cfg.Connect.Port)

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on connect port: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		ReadTimeout:  s.cfg.Connect.ReadTimeout,
		WriteTimeout: s.cfg.Connect.WriteTimeout,
	}

	if tlsConfig := s.loadTLS(s.cfg.Connect.TLS); tlsConfig != nil {
		s.httpServer.Handler = s.connect
		s.httpServer.TLSConfig = tlsConfig
		go func() {
			logger.Log.Info("Combined RPC port listening",
				"port", s.cfg.Connect.Port,
				"protocols", "connect+grpc-web+grpc",
				"tls", true,
			)
			if err := s.httpServer.ServeTLS(lis, "", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		return nil
	}

	// Plaintext: h2c, чтобы нативный gRPC работал без TLS
	s.httpServer.Handler = h2c.NewHandler(s.connect, &http2.Server{})
	go func() {
		logger.Log.Info("Combined RPC port listening",
			"port", s.cfg.Connect.Port,
			"protocols", "connect+grpc-web+grpc",
			"tls", false,
		)
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return nil
}

func (s *Server) startGRPCPorts(ctx context.Context, errCh chan error) error {
	snapFn := func() *Snapshot { return s.snap.Load() }

	if port := s.cfg.GRPC.PortPlaintext; port > 0 {
		lc := net.ListenConfig{}
		lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port: %w", err)
		}
		s.grpcPlaintext = newGRPCServer(s.cfg, snapFn)
		go func() {
			logger.Log.Info("Native gRPC port listening", "port", port, "tls", false)
			if err := s.grpcPlaintext.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	if port := s.cfg.GRPC.PortTLS; port > 0 {
		tlsConfig := s.loadTLS(config.TLSConfig{
			Enabled:  true,
			CertFile: s.cfg.GRPC.TLS.CertFile,
			KeyFile:  s.cfg.GRPC.TLS.KeyFile,
		})
		if tlsConfig == nil {
			// Порт пропускается, сервер остаётся работоспособным
			return nil
		}
		lc := net.ListenConfig{}
		lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc tls port: %w", err)
		}
		s.grpcTLS = newGRPCServer(s.cfg, snapFn)
		go func() {
			logger.Log.Info("Native gRPC port listening", "port", port, "tls", true)
			if err := s.grpcTLS.Serve(tls.NewListener(lis, tlsConfig)); err != nil {
				errCh <- err
			}
		}()
	}

	return nil
}

// loadTLS загружает пару cert/key; при любой ошибке логирует и
// возвращает nil - сервер остаётся работать в plaintext
func (s *Server) loadTLS(cfg config.TLSConfig) *tls.Config {
	if !cfg.Enabled {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		logger.Log.Error("TLS requested but certificates are unusable, falling back to plaintext",
			"cert", cfg.CertFile, "key", cfg.KeyFile, "error", err)
		return nil
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}
}

func (s *Server) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Log.Info("Received shutdown signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Log.Warn("Failed to shut down combined port gracefully", "error", err)
		}
	}

	stopGRPC := func(srv *grpc.Server) {
		if srv == nil {
			return
		}
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			srv.Stop()
		}
	}
	stopGRPC(s.grpcPlaintext)
	stopGRPC(s.grpcTLS)

	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			logger.Log.Warn("Failed to close rate limiter", "error", err)
		}
	}

	logger.Log.Info("Server stopped gracefully")
	return nil
}
