package config

import (
	"fmt"
	"respirosync/common/config"
	"time"
)

// Config RespiroSync 监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 设备标识（胸前佩戴的手机）
	DeviceID string

	// 传感器配置
	Sensor struct {
		Source            string // "simulated" 或 "mqtt"
		PermissionGranted bool   // BODY_SENSORS 权限（平台授权结果）
		SampleRateHz      int    // 采样率，默认 50Hz
		TopicPattern      string // MQTT 主题模板，%s 为设备ID，如 "respirosync/%s/imu"

		// 模拟胸腔运动（演示/联调用）
		Simulated struct {
			BreathingRateBPM float64 // 模拟呼吸率
			Amplitude        float64 // 呼吸引起的加速度幅值（m/s²）
			Noise            float64 // 噪声幅值
			Movement         float64 // 体动幅值（陀螺仪 rad/s）
			PauseEvery       int     // 每隔多少秒插入一次呼吸暂停，0 表示不插入
			PauseDuration    int     // 呼吸暂停持续秒数
		}
	}

	// 引擎（分类器）参数
	Engine struct {
		WarmupSeconds         int     // 预热时长，期间睡眠阶段为 UNKNOWN
		ApneaTimeoutSeconds   int     // 无呼吸多少秒判定为疑似呼吸暂停
		RateWindowSeconds     int     // 呼吸率计算窗口
		MovementWindowSeconds int     // 体动计算窗口
		RetentionSeconds      int     // 采样缓冲保留时长
		Hysteresis            float64 // 过零检测迟滞（m/s²）
	}

	// 轮询配置（展示层定时查询）
	Poll struct {
		IntervalMS int // 轮询间隔（毫秒），默认 1000
	}

	// Redis 缓存/Streams 配置
	Cache struct {
		RealtimeKeyPrefix string // 实时快照键前缀，如 "respirosync:session:"
		RealtimeTTL       int    // 实时快照 TTL（秒）
		MetricsStream     string // 指标流
		AlarmStream       string // 报警流
		StreamMaxLen      int64  // Streams 近似最大长度
	}

	// 报告配置
	Report struct {
		ExcelDir      string // 会话结束后导出 xlsx 的目录，为空不导出
		UploadURL     string // 会话摘要上传地址，为空不上传
		UploadTimeout int    // 上传超时（秒）
	}

	// 会话配置
	Session struct {
		MaxDurationSeconds int // 会话最长时长，0 表示直到收到退出信号
	}

	Monitoring struct {
		MetricsAddr string // Prometheus 监听地址，如 ":9108"，为空不开启
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// 可选的 .env 文件，不覆盖已有环境变量
	if err := config.LoadDotEnv(config.EnvString("ENV_FILE", ".env")); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "respirosync",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "respirosync-monitor",
		QoS:      0,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.DeviceID = config.EnvString("DEVICE_ID", "chest-phone-1")

	cfg.Sensor.Source = config.EnvString("SENSOR_SOURCE", "simulated")
	cfg.Sensor.PermissionGranted = config.EnvBool("SENSOR_PERMISSION_GRANTED", true)
	cfg.Sensor.SampleRateHz = config.EnvInt("SENSOR_SAMPLE_RATE_HZ", 50)
	cfg.Sensor.TopicPattern = config.EnvString("SENSOR_TOPIC_PATTERN", "respirosync/%s/imu")
	cfg.Sensor.Simulated.BreathingRateBPM = config.EnvFloat("SIM_BREATHING_RATE_BPM", 14)
	cfg.Sensor.Simulated.Amplitude = config.EnvFloat("SIM_AMPLITUDE", 0.08)
	cfg.Sensor.Simulated.Noise = config.EnvFloat("SIM_NOISE", 0.005)
	cfg.Sensor.Simulated.Movement = config.EnvFloat("SIM_MOVEMENT", 0.02)
	cfg.Sensor.Simulated.PauseEvery = config.EnvInt("SIM_PAUSE_EVERY", 0)
	cfg.Sensor.Simulated.PauseDuration = config.EnvInt("SIM_PAUSE_DURATION", 15)

	cfg.Engine.WarmupSeconds = config.EnvInt("ENGINE_WARMUP_SECONDS", 60)
	cfg.Engine.ApneaTimeoutSeconds = config.EnvInt("ENGINE_APNEA_TIMEOUT_SECONDS", 10)
	cfg.Engine.RateWindowSeconds = config.EnvInt("ENGINE_RATE_WINDOW_SECONDS", 60)
	cfg.Engine.MovementWindowSeconds = config.EnvInt("ENGINE_MOVEMENT_WINDOW_SECONDS", 30)
	cfg.Engine.RetentionSeconds = config.EnvInt("ENGINE_RETENTION_SECONDS", 300)
	cfg.Engine.Hysteresis = config.EnvFloat("ENGINE_HYSTERESIS", 0.01)

	cfg.Poll.IntervalMS = config.EnvInt("POLL_INTERVAL_MS", 1000)

	cfg.Cache.RealtimeKeyPrefix = config.EnvString("CACHE_REALTIME_PREFIX", "respirosync:session:")
	cfg.Cache.RealtimeTTL = 30 // 30秒
	cfg.Cache.MetricsStream = config.EnvString("STREAM_METRICS", "respirosync:metrics:stream")
	cfg.Cache.AlarmStream = config.EnvString("STREAM_ALARM", "respirosync:alarm:stream")
	cfg.Cache.StreamMaxLen = 10000

	cfg.Report.ExcelDir = config.EnvString("REPORT_EXCEL_DIR", "")
	cfg.Report.UploadURL = config.EnvString("REPORT_UPLOAD_URL", "")
	cfg.Report.UploadTimeout = config.EnvInt("REPORT_UPLOAD_TIMEOUT", 30)

	cfg.Session.MaxDurationSeconds = config.EnvInt("SESSION_MAX_DURATION_SECONDS", 0)

	cfg.Monitoring.MetricsAddr = config.EnvString("METRICS_ADDR", "")

	cfg.Log.Level = config.EnvString("LOG_LEVEL", "info")
	cfg.Log.Format = config.EnvString("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Sensor.Source {
	case "simulated", "mqtt":
	default:
		return fmt.Errorf("invalid SENSOR_SOURCE %q (want simulated or mqtt)", c.Sensor.Source)
	}
	if c.Sensor.SampleRateHz <= 0 {
		return fmt.Errorf("SENSOR_SAMPLE_RATE_HZ must be positive, got %d", c.Sensor.SampleRateHz)
	}
	if c.Poll.IntervalMS <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.Poll.IntervalMS)
	}
	if c.Engine.ApneaTimeoutSeconds <= 0 {
		return fmt.Errorf("ENGINE_APNEA_TIMEOUT_SECONDS must be positive, got %d", c.Engine.ApneaTimeoutSeconds)
	}
	if c.Engine.RetentionSeconds < c.Engine.RateWindowSeconds {
		return fmt.Errorf("ENGINE_RETENTION_SECONDS (%d) must cover ENGINE_RATE_WINDOW_SECONDS (%d)",
			c.Engine.RetentionSeconds, c.Engine.RateWindowSeconds)
	}
	return nil
}

// PollInterval 轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// SensorTopic 当前设备的 MQTT 采样主题
func (c *Config) SensorTopic() string {
	return fmt.Sprintf(c.Sensor.TopicPattern, c.DeviceID)
}
