package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig 健康检查/指标 HTTP 服务配置
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level      string           `mapstructure:"level"`
	Format     string           `mapstructure:"format"`
	TimeFormat string           `mapstructure:"timeFormat"`
	SQL        bool             `mapstructure:"sql"`
	File       LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig PostgreSQL 连接配置（经由 PgBouncer/HAProxy）
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslMode"`
}

// DSN 生成 pgx 可解析的连接串
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Endpoint(),
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

// Endpoint host:port
func (c DatabaseConfig) Endpoint() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// SchemaConfig 启动时建表重试配置
type SchemaConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	RetryDelay     time.Duration `mapstructure:"retryDelay"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// ProbeConfig 探测循环配置
type ProbeConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ConnectTimeout   time.Duration `mapstructure:"connectTimeout"`
	QueryTimeout     time.Duration `mapstructure:"queryTimeout"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	IdentitySetting  string        `mapstructure:"identitySetting"`
	FallbackNode     string        `mapstructure:"fallbackNode"`
}

// RedisConfig 可选的状态发布配置。MaxRetries 为 -1 时关闭重试；
// PublishTimeout 是单次发布的上限，须小于探测间隔。
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	DialTimeout    time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	MaxRetries     int           `mapstructure:"maxRetries"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
	Key            string        `mapstructure:"key"`
	TTL            time.Duration `mapstructure:"ttl"`
}

// Config 顶层配置结构
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// libpq 兼容的环境变量
var pgEnv = map[string]string{
	"database.host":     "PGHOST",
	"database.port":     "PGPORT",
	"database.user":     "PGUSER",
	"database.password": "PGPASSWORD",
	"database.name":     "PGDATABASE",
	"database.sslMode":  "PGSSLMODE",
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 MONITOR_CONFIG 读取；否则回退到 configs/monitor.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 MONITOR_，并将点号替换为下划线
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("monitor")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// PG* 优先于 MONITOR_DATABASE_*
	for key, env := range pgEnv {
		if err := v.BindEnv(key, env, "MONITOR_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// 允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("config: database.host is empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d out of range", c.Database.Port)
	}
	if c.Schema.MaxAttempts <= 0 {
		return fmt.Errorf("config: schema.maxAttempts must be positive, got %d", c.Schema.MaxAttempts)
	}
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("config: probe.interval must be positive, got %s", c.Probe.Interval)
	}
	if c.Probe.FailureThreshold <= 0 {
		return fmt.Errorf("config: probe.failureThreshold must be positive, got %d", c.Probe.FailureThreshold)
	}
	if c.Redis.Enabled && c.Redis.PublishTimeout <= 0 {
		return fmt.Errorf("config: redis.publishTimeout must be positive, got %s", c.Redis.PublishTimeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pgha-monitor")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.timeFormat", "15:04:05")
	v.SetDefault("logging.sql", false)
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslMode", "disable")

	v.SetDefault("schema.maxAttempts", 30)
	v.SetDefault("schema.retryDelay", "2s")
	v.SetDefault("schema.connectTimeout", "0s")

	v.SetDefault("probe.interval", "1s")
	v.SetDefault("probe.connectTimeout", "3s")
	v.SetDefault("probe.queryTimeout", "5s")
	v.SetDefault("probe.failureThreshold", 10)
	v.SetDefault("probe.identitySetting", "cluster_name")
	v.SetDefault("probe.fallbackNode", "postgres-node")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dialTimeout", "3s")
	v.SetDefault("redis.readTimeout", "300ms")
	v.SetDefault("redis.writeTimeout", "300ms")
	v.SetDefault("redis.maxRetries", -1)
	v.SetDefault("redis.publishTimeout", "500ms")
	v.SetDefault("redis.key", "pgha-monitor:status")
	v.SetDefault("redis.ttl", "30s")
}
