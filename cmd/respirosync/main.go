package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	logpkg "respirosync/common/logger"
	"respirosync/internal/config"
	"respirosync/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "respirosync")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting respirosync monitor",
		zap.String("device_id", cfg.DeviceID),
		zap.String("sensor_source", cfg.Sensor.Source),
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.Int("apnea_timeout_seconds", cfg.Engine.ApneaTimeoutSeconds),
		zap.Bool("database_enabled", cfg.Database.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	// 创建服务
	monitorService, err := service.NewMonitorService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create monitor service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitorService.Start(ctx); err != nil {
		logger.Error("Failed to start monitor service", zap.Error(err))
		_ = monitorService.Stop(ctx)
		os.Exit(1)
	}

	// 等待中断信号或会话到达最长时长
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if cfg.Session.MaxDurationSeconds > 0 {
		timer := time.NewTimer(time.Duration(cfg.Session.MaxDurationSeconds) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-deadline:
		logger.Info("Session reached max duration, shutting down",
			zap.Int("max_duration_seconds", cfg.Session.MaxDurationSeconds),
		)
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := monitorService.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
