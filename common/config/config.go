package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 连接配置（会话摘要、呼吸暂停事件落库）
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis 配置（实时快照缓存 + Streams）
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置（手机端 IMU 采样上报）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载数据库配置，prefix 如 "DB"
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Enabled = EnvBool(prefix+"_ENABLED", c.Enabled)
	c.Host = EnvString(prefix+"_HOST", c.Host)
	c.Port = EnvInt(prefix+"_PORT", c.Port)
	c.User = EnvString(prefix+"_USER", c.User)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.Database = EnvString(prefix+"_NAME", c.Database)
	c.SSLMode = EnvString(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = EnvInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = EnvInt(prefix+"_MAX_IDLE", c.MaxIdle)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Enabled = EnvBool(prefix+"_ENABLED", c.Enabled)
	c.Addr = EnvString(prefix+"_ADDR", c.Addr)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.DB = EnvInt(prefix+"_DB", c.DB)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = EnvString(prefix+"_BROKER", c.Broker)
	c.ClientID = EnvString(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = EnvString(prefix+"_USERNAME", c.Username)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.QoS = byte(EnvInt(prefix+"_QOS", int(c.QoS)))
}

// EnvString 读取字符串环境变量，空值时返回默认值
func EnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EnvInt 读取整数环境变量，解析失败时返回默认值
func EnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// EnvFloat 读取浮点环境变量
func EnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// EnvBool 读取布尔环境变量（true/false/1/0）
func EnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
