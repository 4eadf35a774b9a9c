// Package service 监测服务：装配引擎、传感器来源、轮询器与各个 Sink
package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"respirosync/common/database"
	mqttcommon "respirosync/common/mqtt"
	rediscommon "respirosync/common/redis"
	"respirosync/internal/alarm"
	"respirosync/internal/config"
	"respirosync/internal/engine"
	"respirosync/internal/models"
	"respirosync/internal/monitoring"
	"respirosync/internal/poller"
	"respirosync/internal/publisher"
	"respirosync/internal/report"
	"respirosync/internal/repository"
	"respirosync/internal/sensor"
	"respirosync/internal/view"
)

// SessionStore 会话持久化（repository.SessionRepository 实现）
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID, deviceID string, startedAt time.Time) error
	SaveSummary(ctx context.Context, s *models.SessionSummary) error
	CreateApneaEvent(ctx context.Context, event *models.ApneaEvent) error
}

// Dependencies 外部依赖；为 nil 的项对应功能关闭
type Dependencies struct {
	Source   sensor.Source
	Gate     sensor.PermissionGate
	KV       publisher.KVStore
	Streams  publisher.StreamWriter
	Sessions SessionStore
	Registry *prometheus.Registry
}

// MonitorService 呼吸监测服务
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	engine   *engine.Engine
	poller   *poller.Poller
	history  *report.History
	tracker  *alarm.ApneaTracker
	metrics  *monitoring.Metrics
	sessions SessionStore
	uploader *report.Uploader
	server   *monitoring.Server

	// 由 NewMonitorService 建立的连接，Stop 时关闭
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	mu        sync.Mutex
	sessionID string
}

// NewMonitorService 根据配置建立连接并创建服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	deps := Dependencies{
		Gate:     sensor.StaticGate(cfg.Sensor.PermissionGranted),
		Registry: prometheus.NewRegistry(),
	}

	var (
		db          *sql.DB
		redisClient *redis.Client
		mqttClient  *mqttcommon.Client
		err         error
	)

	// 初始化数据库
	if cfg.Database.Enabled {
		db, err = database.Connect(context.Background(), &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := repository.NewSessionRepository(db, logger)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		deps.Sessions = repo
	}

	// 初始化Redis
	if cfg.Redis.Enabled {
		redisClient, err = rediscommon.Connect(context.Background(), &cfg.Redis)
		if err != nil {
			closeAll(db, nil, nil)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := publisher.NewRedisStore(redisClient, cfg.Cache.StreamMaxLen)
		deps.KV = store
		deps.Streams = store
	}

	// 初始化传感器来源
	switch cfg.Sensor.Source {
	case "mqtt":
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			closeAll(db, redisClient, nil)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		deps.Source = sensor.NewMQTTSource(mqttClient, cfg.SensorTopic(), cfg.MQTT.QoS, logger)
	default:
		deps.Source = sensor.NewSimulatedSource(SynthConfig(cfg), cfg.Sensor.SampleRateHz, logger)
	}

	s := newMonitorService(cfg, deps, logger)
	s.db = db
	s.redisClient = redisClient
	s.mqttClient = mqttClient
	return s, nil
}

func newMonitorService(cfg *config.Config, deps Dependencies, logger *zap.Logger) *MonitorService {
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := monitoring.NewMetrics(registry)

	eng := engine.New(deps.Source, deps.Gate, ClassifierParams(cfg), logger,
		engine.WithObserver(metrics),
	)

	trackerOpts := []alarm.Option{alarm.WithOnEvent(metrics.ApneaEvent)}
	if deps.Sessions != nil {
		trackerOpts = append(trackerOpts, alarm.WithStore(deps.Sessions))
	}
	if deps.Streams != nil {
		trackerOpts = append(trackerOpts, alarm.WithStream(deps.Streams, cfg.Cache.AlarmStream))
	}
	tracker := alarm.NewApneaTracker(cfg.DeviceID, logger, trackerOpts...)
	history := report.NewHistory(cfg.DeviceID)

	sinks := []poller.Sink{
		view.NewConsole(logger),
		history,
		tracker,
		metrics,
	}
	if deps.KV != nil {
		sinks = append(sinks, publisher.NewCacheManager(cfg, deps.KV, deps.Streams, logger))
	}

	s := &MonitorService{
		config:   cfg,
		logger:   logger,
		engine:   eng,
		poller:   poller.New(eng, cfg.PollInterval(), logger, sinks...),
		history:  history,
		tracker:  tracker,
		metrics:  metrics,
		sessions: deps.Sessions,
	}
	if cfg.Report.UploadURL != "" {
		s.uploader = report.NewUploader(cfg.Report.UploadURL, seconds(cfg.Report.UploadTimeout), logger)
	}
	if cfg.Monitoring.MetricsAddr != "" {
		s.server = monitoring.NewServer(cfg.Monitoring.MetricsAddr, registry, eng, logger)
	}
	return s
}

// Engine 底层引擎
func (s *MonitorService) Engine() *engine.Engine {
	return s.engine
}

// Start 启动服务并开始一个监测会话
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting respirosync monitor service")

	if s.server != nil {
		s.server.Start()
	}

	if _, err := s.StartSession(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	s.logger.Info("Respirosync monitor service started successfully")
	return nil
}

// StartSession 开始监测会话并启动轮询
func (s *MonitorService) StartSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, err := s.engine.StartSession(ctx)
	if err != nil {
		return "", err
	}
	startedAt := time.Now()

	s.sessionID = sessionID
	s.history.Begin(sessionID, startedAt)
	s.tracker.Reset()

	if s.sessions != nil {
		if err := s.sessions.CreateSession(ctx, sessionID, s.config.DeviceID, startedAt); err != nil {
			s.logger.Error("Failed to create session record",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	// 轮询生命周期独立于调用方 ctx，由 StopSession 结束
	if err := s.poller.Start(context.Background()); err != nil {
		s.logger.Warn("Poller already running", zap.Error(err))
	}

	s.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("device_id", s.config.DeviceID),
		zap.String("sensor_source", s.config.Sensor.Source),
	)
	return sessionID, nil
}

// StopSession 停止轮询与会话，保存并导出摘要；未运行时返回 nil, nil
func (s *MonitorService) StopSession(ctx context.Context) (*models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先取消轮询，保证停止后不再有待执行的查询
	s.poller.Stop()

	final, err := s.engine.StopSession()
	if err != nil {
		if final == nil {
			return nil, err
		}
		// 订阅关闭出错不影响摘要保存
		s.logger.Warn("Session stopped with error", zap.Error(err))
	}
	if s.sessionID == "" {
		return nil, nil
	}
	s.sessionID = ""

	summary := s.history.Summary(final, time.Now())
	// 以告警跟踪器为准，与已写入的 apnea_events 条数一致
	summary.ApneaEpisodes = s.tracker.Episodes()
	s.tracker.Reset()

	s.logger.Info("Session stopped",
		zap.String("session_id", summary.SessionID),
		zap.Duration("duration", summary.Duration()),
		zap.Int("breath_cycles", summary.BreathCycles),
		zap.Float64("average_bpm", summary.AverageBPM),
		zap.Int("apnea_episodes", summary.ApneaEpisodes),
	)

	s.persist(ctx, summary)
	return summary, nil
}

func (s *MonitorService) persist(ctx context.Context, summary *models.SessionSummary) {
	if s.sessions != nil {
		if err := s.sessions.SaveSummary(ctx, summary); err != nil {
			s.logger.Error("Failed to save session summary",
				zap.String("session_id", summary.SessionID),
				zap.Error(err),
			)
		}
	}

	if dir := s.config.Report.ExcelDir; dir != "" {
		path, err := report.WriteExcelFile(dir, summary, s.history.Timeline())
		if err != nil {
			s.logger.Error("Failed to export session report",
				zap.String("session_id", summary.SessionID),
				zap.Error(err),
			)
		} else {
			s.logger.Info("Exported session report", zap.String("path", path))
		}
	}

	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, summary); err != nil {
			s.logger.Warn("Session summary not uploaded",
				zap.String("session_id", summary.SessionID),
				zap.Error(err),
			)
		}
	}
}

// Stop 停止服务：结束会话、释放引擎、关闭连接
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping respirosync monitor service")

	if _, err := s.StopSession(ctx); err != nil {
		s.logger.Error("Error stopping session", zap.Error(err))
	}
	if err := s.engine.Release(); err != nil {
		s.logger.Error("Error releasing engine", zap.Error(err))
	}

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Error stopping monitoring server", zap.Error(err))
		}
	}

	closeAll(s.db, s.redisClient, s.mqttClient)
	s.logger.Info("Respirosync monitor service stopped")
	return nil
}

func closeAll(db *sql.DB, redisClient *redis.Client, mqttClient *mqttcommon.Client) {
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
