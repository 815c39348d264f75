package main

import (
	"context"

	"protomock/pkg/config"
	"protomock/pkg/logger"
	"protomock/pkg/metrics"
	"protomock/pkg/server"
	"protomock/pkg/telemetry"
	"protomock/pkg/watcher"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		logger.Init("error")
		logger.Fatal("Failed to load config", "error", err)
	}

	// Инициализируем логгер
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	logger.Log.Info("Starting protomock",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"proto_dir", cfg.Assets.ProtoDir,
		"rule_dir", cfg.Assets.RuleDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	if cfg.Metrics.Enabled {
		go func() {
			logger.Log.Info("Starting metrics server",
				"port", cfg.Metrics.Port,
				"path", cfg.Metrics.Path,
			)
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Телеметрия
	if cfg.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     cfg.Tracing.Enabled,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("Failed to init telemetry", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Log.Warn("Failed to shutdown telemetry", "error", err)
				}
			}()
		}
	}

	// Первый снапшот: схемы, IR, правила, таблица сервисов
	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("Failed to build initial snapshot", "error", err)
	}

	// Автоперезагрузка при изменении файлов схем и правил
	if cfg.Assets.Watch {
		w, err := watcher.New(
			[]string{cfg.Assets.ProtoDir, cfg.Assets.RuleDir},
			srv.Reload,
		)
		if err != nil {
			logger.Log.Warn("Failed to start asset watcher", "error", err)
		} else {
			go w.Run(ctx)
			logger.Log.Info("Asset watcher started")
		}
	}

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server failed", "error", err)
	}
}
