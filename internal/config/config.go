package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动配置；Filename 为空时只输出到控制台
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// APIAuthConfig 启用时请求需携带 X-API-Key 或 Bearer 令牌
type APIAuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// APIConfig 控制接口
type APIConfig struct {
	Auth APIAuthConfig `mapstructure:"auth"`
}

// SerialConfig 串口链路
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
	Wake bool   `mapstructure:"wake"`
}

// TCPConfig 网络电台链路
type TCPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// BLEUUIDs GATT 标识覆盖，留空使用固件默认值
type BLEUUIDs struct {
	Service         string `mapstructure:"service"`
	ToRadio         string `mapstructure:"toRadio"`
	FromRadio       string `mapstructure:"fromRadio"`
	FromRadioLegacy string `mapstructure:"fromRadioLegacy"`
	FromNum         string `mapstructure:"fromNum"`
}

// BLEConfig 蓝牙链路
type BLEConfig struct {
	Enable       bool          `mapstructure:"enable"`
	DeviceID     string        `mapstructure:"deviceId"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	ForceEvery   int           `mapstructure:"forceEvery"`
	MaxDrain     int           `mapstructure:"maxDrain"`
	UUIDs        BLEUUIDs      `mapstructure:"uuids"`
}

// LinkConfig 设备链路；AutoConnect 为空表示启动时按记忆的端点连接
type LinkConfig struct {
	AutoConnect  string        `mapstructure:"autoConnect"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
	Rate         float64       `mapstructure:"rate"`
	Burst        int           `mapstructure:"burst"`
	AdminChannel uint32        `mapstructure:"adminChannel"`
	Serial       SerialConfig  `mapstructure:"serial"`
	TCP          TCPConfig     `mapstructure:"tcp"`
	BLE          BLEConfig     `mapstructure:"ble"`
}

// AdminConfig 管理协议客户端
type AdminConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	SerializeSaves bool          `mapstructure:"serializeSaves"`
	Watchdog       bool          `mapstructure:"watchdog"`
}

// ReconnectConfig 保存后重连节奏
type ReconnectConfig struct {
	Delay          time.Duration `mapstructure:"delay"`
	Rounds         int           `mapstructure:"rounds"`
	WatchInterval  time.Duration `mapstructure:"watchInterval"`
	WatchWindow    time.Duration `mapstructure:"watchWindow"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// EndpointsConfig 记忆端点的存储方式：memory|file|redis|postgres
type EndpointsConfig struct {
	Store    string `mapstructure:"store"`
	File     string `mapstructure:"file"`
	RedisKey string `mapstructure:"redisKey"`
	Instance string `mapstructure:"instance"`
}

// DatabaseConfig PostgreSQL 连接池配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	TraceSQL        bool          `mapstructure:"traceSQL"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	API       APIConfig       `mapstructure:"api"`
	Link      LinkConfig      `mapstructure:"link"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 MESH_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "meshlinkd")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("api.auth.enabled", false)

	v.SetDefault("link.autoConnect", "")
	v.SetDefault("link.heartbeat", "5m")
	v.SetDefault("link.rate", 10)
	v.SetDefault("link.burst", 4)
	v.SetDefault("link.adminChannel", 0)
	v.SetDefault("link.serial.baud", 115200)
	v.SetDefault("link.serial.wake", true)
	v.SetDefault("link.tcp.port", 4403)
	v.SetDefault("link.tcp.connectTimeout", "10s")
	v.SetDefault("link.ble.enable", false)
	v.SetDefault("link.ble.pollInterval", "250ms")
	v.SetDefault("link.ble.forceEvery", 8)
	v.SetDefault("link.ble.maxDrain", 64)

	v.SetDefault("admin.timeout", "6s")
	v.SetDefault("admin.serializeSaves", true)
	v.SetDefault("admin.watchdog", true)

	v.SetDefault("reconnect.delay", "20s")
	v.SetDefault("reconnect.rounds", 10)
	v.SetDefault("reconnect.watchInterval", "2s")
	v.SetDefault("reconnect.watchWindow", "120s")
	v.SetDefault("reconnect.connectTimeout", "30s")

	v.SetDefault("endpoints.store", "file")
	v.SetDefault("endpoints.file", "data/endpoint.yaml")
	v.SetDefault("endpoints.redisKey", "meshlink:endpoint:default")
	v.SetDefault("endpoints.instance", "default")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 4)
	v.SetDefault("database.maxIdleConns", 1)
	v.SetDefault("database.connMaxLifetime", "1h")
	v.SetDefault("database.traceSQL", false)
}

// Validate 检查取值范围与枚举
func (c *Config) Validate() error {
	switch c.Link.AutoConnect {
	case "", "serial", "tcp", "ble":
	default:
		return fmt.Errorf("config: link.autoConnect %q must be serial, tcp or ble", c.Link.AutoConnect)
	}
	switch c.Endpoints.Store {
	case "memory":
	case "file":
		if c.Endpoints.File == "" {
			return errors.New("config: endpoints.file is required for the file store")
		}
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("config: endpoints.store=redis requires redis.enabled")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("config: endpoints.store=postgres requires database.dsn")
		}
	default:
		return fmt.Errorf("config: endpoints.store %q must be memory, file, redis or postgres", c.Endpoints.Store)
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("config: api.auth.apiKeys is empty while auth is enabled")
	}
	if c.Link.Rate < 0 {
		return errors.New("config: link.rate must not be negative")
	}
	if c.Reconnect.Rounds < 0 {
		return errors.New("config: reconnect.rounds must not be negative")
	}
	u := c.Link.BLE.UUIDs
	for name, s := range map[string]string{
		"service":         u.Service,
		"toRadio":         u.ToRadio,
		"fromRadio":       u.FromRadio,
		"fromRadioLegacy": u.FromRadioLegacy,
		"fromNum":         u.FromNum,
	} {
		if s == "" {
			continue
		}
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("config: link.ble.uuids.%s: %w", name, err)
		}
	}
	return nil
}
