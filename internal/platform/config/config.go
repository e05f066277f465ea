package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应，所有字段都可以被环境变量覆盖
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Counter     CounterConfig     `mapstructure:"counter"`
	RateLimit   RateLimitConfig   `mapstructure:"rateLimit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Health      HealthConfig      `mapstructure:"health"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
	// VideoPath 为空时不注册视频路由
	VideoPath string `mapstructure:"videoPath"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了三种存储后端的配置。
// 某个后端的地址为空即表示未配置该后端。
type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
	SQL   SQLConfig   `mapstructure:"sql"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	// URL 可以是 redis:// 形式的连接串，也可以是 host:port
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig 定义了文档存储的配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"maxPoolSize"`
}

// SQLConfig 定义了关系型数据库的配置
type SQLConfig struct {
	// DSN 以 postgres:// 或 postgresql:// 开头时使用PostgreSQL，否则视为SQLite文件路径
	DSN          string `mapstructure:"dsn"`
	AutoMigrate  bool   `mapstructure:"autoMigrate"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
}

// CounterConfig 定义了全局计数器的配置
type CounterConfig struct {
	Key string `mapstructure:"key"`
}

// RateLimitConfig 定义了固定窗口限流的参数
type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int64         `mapstructure:"max"`
}

// IdempotencyConfig 定义了幂等标记的有效期，与限流窗口相互独立
type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RetentionConfig 定义了审计事件的保留策略。Events 为0表示永久保留。
type RetentionConfig struct {
	Events        time.Duration `mapstructure:"events"`
	PruneInterval time.Duration `mapstructure:"pruneInterval"`
	BatchSize     int           `mapstructure:"batchSize"`
}

// SnapshotConfig 定义了Redis计数器落盘到关系库的频率
type SnapshotConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HealthConfig 定义了后台健康检查的频率
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig 定义了日志输出
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaultSQLiteDSN 是没有配置任何存储时使用的本地SQLite文件
const defaultSQLiteDSN = "slaps.db"

// envBindings 将配置项绑定到部署环境中约定俗成的变量名
var envBindings = map[string][]string{
	"database.redis.url":      {"REDIS_URL"},
	"database.mongo.uri":      {"MONGODB_URI"},
	"database.mongo.database": {"MONGODB_DBNAME"},
	"database.sql.dsn":        {"DATABASE_URL", "DATABASE"},
	"log.level":               {"LOG_LEVEL"},
	"log.format":              {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.videoPath", "")

	v.SetDefault("database.redis.url", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("database.mongo.uri", "")
	v.SetDefault("database.mongo.database", "bihar-meme")
	v.SetDefault("database.mongo.maxPoolSize", 10)
	v.SetDefault("database.sql.dsn", "")
	v.SetDefault("database.sql.autoMigrate", true)
	v.SetDefault("database.sql.maxOpenConns", 10)

	v.SetDefault("counter.key", "slaps")
	v.SetDefault("rateLimit.window", 60*time.Second)
	v.SetDefault("rateLimit.max", 10)
	v.SetDefault("idempotency.ttl", 60*time.Second)
	v.SetDefault("retention.events", 180*24*time.Hour)
	v.SetDefault("retention.pruneInterval", time.Hour)
	v.SetDefault("retention.batchSize", 1000)
	v.SetDefault("snapshot.interval", time.Minute)
	v.SetDefault("health.interval", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadEnvFiles 按优先级加载 .env.local 与 .env，文件不存在时忽略
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("无法加载 %s: %w", file, err)
		}
	}
	return nil
}

// LoadConfig 函数负责查找、加载和解析配置
// config.yaml 是可选的：没有配置文件时，完全由默认值和环境变量决定
func LoadConfig() (Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return Config{}, err
	}

	v := viper.New()

	// 1. 设置配置文件名和类型
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 2. 添加配置文件搜索路径
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 3. 环境变量支持，例如 SERVER_ADDRESS=:9090
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("无法绑定环境变量 %v: %w", names, err)
		}
	}
	setDefaults(v)

	// 4. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 5. 将配置反序列化到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置失败: %w", err)
	}

	// PORT 是平台约定的监听端口
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	if !cfg.Database.HasRedis() && !cfg.Database.HasMongo() && !cfg.Database.HasSQL() {
		cfg.Database.SQL.DSN = defaultSQLiteDSN
	}

	return cfg, cfg.Validate()
}

// Validate 检查会让核心逻辑失效的配置
func (c Config) Validate() error {
	if c.Counter.Key == "" {
		return errors.New("counter.key 不能为空")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return fmt.Errorf("rateLimit 配置无效: window=%v max=%d", c.RateLimit.Window, c.RateLimit.Max)
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl 必须为正数: %v", c.Idempotency.TTL)
	}
	if c.Retention.Events < 0 {
		return fmt.Errorf("retention.events 不能为负数: %v", c.Retention.Events)
	}
	return nil
}

// HasRedis 表示是否配置了键值存储
func (d DatabaseConfig) HasRedis() bool { return d.Redis.URL != "" }

// HasMongo 表示是否配置了文档存储
func (d DatabaseConfig) HasMongo() bool { return d.Mongo.URI != "" }

// HasSQL 表示是否配置了关系型数据库
func (d DatabaseConfig) HasSQL() bool { return d.SQL.DSN != "" }
