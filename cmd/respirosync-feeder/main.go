// respirosync-feeder 以手机端的格式向 MQTT 发布模拟胸腔 IMU 采样
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	commoncfg "respirosync/common/config"
	logpkg "respirosync/common/logger"
	mqttcommon "respirosync/common/mqtt"
	"respirosync/internal/config"
	"respirosync/internal/sensor"
	"respirosync/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "respirosync-feeder")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = commoncfg.EnvString("FEEDER_CLIENT_ID", cfg.MQTT.ClientID+"-feeder")

	client, err := mqttcommon.NewClient(&mqttCfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer client.Disconnect()

	feeder, err := sensor.NewFeeder(client, sensor.FeederConfig{
		Topic:        cfg.SensorTopic(),
		QoS:          cfg.MQTT.QoS,
		SampleRateHz: cfg.Sensor.SampleRateHz,
		BatchSize:    commoncfg.EnvInt("FEEDER_BATCH_SIZE", 10),
		RevokeAfter:  time.Duration(commoncfg.EnvInt("FEEDER_REVOKE_AFTER_SECONDS", 0)) * time.Second,
		Synth:        service.SynthConfig(cfg),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create feeder", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := feeder.Run(ctx); err != nil {
		logger.Error("Feeder failed", zap.Error(err))
		return
	}
	logger.Info("Feeder stopped")
}
