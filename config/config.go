// Package config 加载服务端与客户端配置（viper，支持 FEEDSYNC_* 环境变量覆盖）
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Client    ClientConfig    `mapstructure:"client"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Upload    UploadConfig    `mapstructure:"upload"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// 变更通知频道
	Channel     string        `mapstructure:"channel"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SyncConfig 服务端 shape 订阅参数
type SyncConfig struct {
	LongPollTimeout time.Duration `mapstructure:"long_poll_timeout"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PublishWorkers  int           `mapstructure:"publish_workers"`
	PublishQueue    int           `mapstructure:"publish_queue"`
}

// ClientConfig 客户端（feedtail）参数
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	ToggleDebounce time.Duration `mapstructure:"toggle_debounce"`
	PageSize       int           `mapstructure:"page_size"`
	Transport      string        `mapstructure:"transport"` // http, ws
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type UploadConfig struct {
	Dir       string `mapstructure:"dir"`
	PublicURL string `mapstructure:"public_url"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// Load 读取 config/config.yaml（或 FEEDSYNC_CONFIG 指定的文件）
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// 没有配置文件时使用默认值 + 环境变量
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default 返回纯默认配置（测试用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "feedsync.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "feedsync:changes")
	v.SetDefault("redis.snapshot_ttl", 5*time.Minute)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.expires_in", 30*24*time.Hour)
	v.SetDefault("jwt.issuer", "feedsync")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	v.SetDefault("sync.long_poll_timeout", 20*time.Second)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.poll_interval", time.Second)
	v.SetDefault("sync.publish_workers", 2)
	v.SetDefault("sync.publish_queue", 10000)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.confirm_timeout", 5*time.Second)
	v.SetDefault("client.toggle_debounce", 500*time.Millisecond)
	v.SetDefault("client.page_size", 20)
	v.SetDefault("client.transport", "http")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "feedsync")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.public_url", "/media")
	v.SetDefault("upload.max_bytes", 10<<20)

	v.SetDefault("ratelimit.events_per_second", 5)
	v.SetDefault("ratelimit.burst", 20)
}
