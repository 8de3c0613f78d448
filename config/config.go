package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	ETCD    ETCDConfig    `mapstructure:"etcd"`
	Lock    LockConfig    `mapstructure:"lock"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
	Session SessionConfig `mapstructure:"session"`
	Media   MediaConfig   `mapstructure:"media"`
	Polls   PollsConfig   `mapstructure:"polls"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Mode          string        `mapstructure:"mode"` // gin模式: debug|release|test
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
	TemplateGlob  string        `mapstructure:"template_glob"` // 为空时使用内置模板
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 会话与结果缓存使用的Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LockConfig struct {
	Backend    string        `mapstructure:"backend"` // etcd|redis|none
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type MediaConfig struct {
	Root           string `mapstructure:"root"`
	URLPrefix      string `mapstructure:"url_prefix"`
	MaxAvatarBytes int64  `mapstructure:"max_avatar_bytes"`
}

type PollsConfig struct {
	IndexPageSize   int           `mapstructure:"index_page_size"` // 0表示首页列出全部活跃问题
	ResultsCacheTTL time.Duration `mapstructure:"results_cache_ttl"`
	WarmInterval    time.Duration `mapstructure:"warm_interval"` // 0表示关闭预热
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"` // text|json
	AddSource bool   `mapstructure:"add_source"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LITTLEPOLLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if cfg.MySQL.Slave == "" {
		cfg.MySQL.Slave = cfg.MySQL.Master
	}

	AppConfig = cfg
	return &AppConfig, nil
}

// Default 返回只包含默认值的配置，测试中使用
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("解析默认配置失败: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)

	v.SetDefault("redis.data_address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 3*time.Second)

	v.SetDefault("kafka.topic", "littlepolls.votes")
	v.SetDefault("kafka.group_id", "littlepolls")

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.request_timeout", 3*time.Second)

	v.SetDefault("lock.backend", "none")
	v.SetDefault("lock.timeout", 30*time.Second)
	v.SetDefault("lock.retry_count", 3)

	v.SetDefault("graphql.path", "/graphql")

	v.SetDefault("session.cookie_name", "sessionid")
	v.SetDefault("session.ttl", 14*24*time.Hour)

	v.SetDefault("media.root", "media")
	v.SetDefault("media.url_prefix", "/media")
	v.SetDefault("media.max_avatar_bytes", 2<<20)

	v.SetDefault("polls.index_page_size", 0)
	v.SetDefault("polls.results_cache_ttl", time.Minute)
	v.SetDefault("polls.warm_interval", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
