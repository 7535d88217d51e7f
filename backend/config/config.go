package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Running struct {
		Port int    `mapstructure:"port"`
		Mode string `mapstructure:"mode"`
	} `mapstructure:"running"`
	Mysql struct {
		// 为空时使用内存存储
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		// 为空时不镜像在线名单；一个地址用单机客户端，多个地址用集群客户端
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		// 为空时不导出事件
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		ClientID    string        `mapstructure:"client_id"`
		QueueSize   int           `mapstructure:"queue_size"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"max_retry"`
		MaxInflight int           `mapstructure:"max_inflight"`
		BaseBackoff time.Duration `mapstructure:"base_backoff"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"kafka"`
	Chat struct {
		SuppressEcho        bool          `mapstructure:"suppress_echo"`
		MessageFrameMaxSize int64         `mapstructure:"message_frame_max_size"`
		MaxConnections      int           `mapstructure:"max_connections"`
		LeaveTimeout        time.Duration `mapstructure:"leave_timeout"`
	} `mapstructure:"chat"`
	Cors struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3000)
	v.SetDefault("running.mode", ModeDevelopment)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.client_id", "cipherchat")
	v.SetDefault("kafka.queue_size", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_retry", 3)
	v.SetDefault("kafka.max_inflight", 100)
	v.SetDefault("kafka.base_backoff", 50*time.Millisecond)
	v.SetDefault("kafka.max_backoff", time.Second)
	v.SetDefault("chat.suppress_echo", false)
	v.SetDefault("chat.message_frame_max_size", 4096)
	v.SetDefault("chat.max_connections", 1000)
	v.SetDefault("chat.leave_timeout", 5*time.Second)
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("log.level", "info")
}

// Load 读取 chatConfig.yaml（兼容从项目根目录或 backend 目录启动），
// 再叠加环境变量与命令行参数。找不到配置文件时只用默认值。
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("chat_server", pflag.ContinueOnError)
	configDir := fs.String("config-dir", "", "directory containing chatConfig.yaml")
	fs.Int("port", 0, "listen port, overrides running.port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("chatConfig")
	v.SetConfigType("yaml")
	if *configDir != "" {
		v.AddConfigPath(*configDir)
	}
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容部署环境里的常用变量名
	for key, env := range map[string]string{
		"running.port":                "PORT",
		"running.mode":                "APP_ENV",
		"mysql.dsn":                   "MYSQL_DSN",
		"redis.addrs":                 "REDIS_ADDR",
		"kafka.brokers":               "KAFKA_BROKERS",
		"chat.message_frame_max_size": "MESSAGE_FRAME_MAX_SIZE",
	} {
		prefixed := "CHAT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env, prefixed); err != nil {
			return nil, err
		}
	}
	if err := v.BindPFlag("running.port", fs.Lookup("port")); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Running.Port <= 0 || c.Running.Port > 65535 {
		return fmt.Errorf("invalid running.port %d", c.Running.Port)
	}
	if c.Chat.MessageFrameMaxSize <= 0 {
		return fmt.Errorf("invalid chat.message_frame_max_size %d", c.Chat.MessageFrameMaxSize)
	}
	if c.Chat.MaxConnections <= 0 {
		return fmt.Errorf("invalid chat.max_connections %d", c.Chat.MaxConnections)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}

// Production 生产模式下 gin 使用 release 模式，日志输出 JSON
func (c *Config) Production() bool {
	return c.Running.Mode == ModeProduction
}
