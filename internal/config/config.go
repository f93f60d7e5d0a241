package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 后端模式
const (
	BackendModeHTTP     = "http"
	BackendModePostgres = "postgres"
)

// DatabaseConfig 数据库配置（postgres 模式）
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置（快照缓存与更新流）
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	SnapshotKey    string `yaml:"snapshot_key"`
	SnapshotTTLSec int    `yaml:"snapshot_ttl_sec"`
	Stream         string `yaml:"stream"`
	StreamMaxLen   int64  `yaml:"stream_max_len"`
}

// MQTTConfig MQTT 配置（快照推送）
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Config 看板服务配置
type Config struct {
	Backend struct {
		// 选项：http（FastAPI 后端）、postgres（直连数据库）
		Mode       string `yaml:"mode"`
		APIURL     string `yaml:"api_url"`
		TimeoutMS  int    `yaml:"timeout_ms"`
		RetryCount int    `yaml:"retry_count"`
	} `yaml:"backend"`

	Poller struct {
		IntervalMS       int    `yaml:"interval_ms"`       // 轮询间隔（毫秒），默认 5000
		FailureThreshold int    `yaml:"failure_threshold"` // 连续失败多少次判定断开，默认 3
		LeaderboardLimit int    `yaml:"leaderboard_limit"`
		MetricsRange     string `yaml:"metrics_range"`
		StatusFilter     string `yaml:"status_filter"` // 为空表示全部
		Timezone         string `yaml:"timezone"`      // 小时分布使用的时区，默认 Local
	} `yaml:"poller"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.Backend.Mode = BackendModeHTTP
	cfg.Backend.APIURL = "http://localhost:8000"
	cfg.Backend.TimeoutMS = 10000
	cfg.Backend.RetryCount = 2

	cfg.Poller.IntervalMS = 5000
	cfg.Poller.FailureThreshold = 3
	cfg.Poller.LeaderboardLimit = 10
	cfg.Poller.MetricsRange = "24h"
	cfg.Poller.Timezone = "Local"

	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "grace",
		SSLMode:  "disable",
	}

	cfg.Redis = RedisConfig{
		Addr:           "localhost:6379",
		SnapshotKey:    "grace:dashboard:snapshot",
		SnapshotTTLSec: 30,
		Stream:         "grace:dashboard:updates",
		StreamMaxLen:   1000,
	}

	cfg.MQTT = MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "grace-live",
		Topic:    "grace/dashboard/snapshot",
		QoS:      1,
	}

	cfg.HTTP.Addr = ":8090"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load 加载配置：默认值 → GRACE_CONFIG_FILE（YAML，可选）→ 环境变量
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GRACE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Backend.Mode = strings.ToLower(getEnv("GRACE_BACKEND_MODE", c.Backend.Mode))
	c.Backend.APIURL = getEnv("GRACE_API_URL", c.Backend.APIURL)
	c.Backend.TimeoutMS = getEnvInt("GRACE_HTTP_TIMEOUT_MS", c.Backend.TimeoutMS)
	c.Backend.RetryCount = getEnvInt("GRACE_HTTP_RETRY_COUNT", c.Backend.RetryCount)

	c.Poller.IntervalMS = getEnvInt("POLL_INTERVAL_MS", c.Poller.IntervalMS)
	c.Poller.FailureThreshold = getEnvInt("POLL_FAILURE_THRESHOLD", c.Poller.FailureThreshold)
	c.Poller.LeaderboardLimit = getEnvInt("LEADERBOARD_LIMIT", c.Poller.LeaderboardLimit)
	c.Poller.MetricsRange = getEnv("METRICS_RANGE", c.Poller.MetricsRange)
	c.Poller.StatusFilter = getEnv("ESCALATION_STATUS_FILTER", c.Poller.StatusFilter)
	c.Poller.Timezone = getEnv("DASHBOARD_TIMEZONE", c.Poller.Timezone)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.SnapshotKey = getEnv("SNAPSHOT_CACHE_KEY", c.Redis.SnapshotKey)
	c.Redis.SnapshotTTLSec = getEnvInt("SNAPSHOT_CACHE_TTL_SEC", c.Redis.SnapshotTTLSec)
	c.Redis.Stream = getEnv("SNAPSHOT_STREAM", c.Redis.Stream)
	c.Redis.StreamMaxLen = int64(getEnvInt("SNAPSHOT_STREAM_MAXLEN", int(c.Redis.StreamMaxLen)))

	c.MQTT.Enabled = getEnvBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = byte(getEnvInt("MQTT_QOS", int(c.MQTT.QoS)))

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendModeHTTP:
		if c.Backend.APIURL == "" {
			return fmt.Errorf("GRACE_API_URL is required in http mode")
		}
	case BackendModePostgres:
	default:
		return fmt.Errorf("unsupported backend mode: %s", c.Backend.Mode)
	}
	if c.Poller.IntervalMS <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d ms", c.Poller.IntervalMS)
	}
	if c.Poller.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.Poller.FailureThreshold)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS: %d", c.MQTT.QoS)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// PollInterval 轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMS) * time.Millisecond
}

// HTTPTimeout 后端请求超时
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMS) * time.Millisecond
}

// SnapshotTTL 快照缓存 TTL
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.Redis.SnapshotTTLSec) * time.Second
}

// Location 看板时区
func (c *Config) Location() (*time.Location, error) {
	switch c.Poller.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Poller.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_TIMEZONE %q: %w", c.Poller.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
