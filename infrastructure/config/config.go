package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Cors     CorsConfig
}

type ServerConfig struct {
	Port    string
	RunMode string
	Domain  string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DbName          string
	SSLMode         string
	MaxConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	Db           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

// RateLimitConfig is one per-action ceiling: at most Max operations per
// Window per principal.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// GatewayConfig tunes the realtime gateway. The threshold and window values
// were observed in production; they are configuration, not semantics.
type GatewayConfig struct {
	ViolationThreshold int
	MaxMessageLength   int
	HistoryLimit       int64
	ReplayLimit        int64
	ChannelRetention   int64
	HeartbeatInterval  time.Duration
	PongWait           time.Duration
	WriteWait          time.Duration
	MaxFrameBytes      int64
	ConnectLimit       RateLimitConfig
	JoinLimit          RateLimitConfig
	SendLimit          RateLimitConfig
}

type CorsConfig struct {
	AllowOrigins string
}

func GetConfig() *Config {
	cfgPath := getConfigPath(os.Getenv("APP_ENV"))
	v, err := LoadConfig(cfgPath, "yml")
	if err != nil {
		log.Fatalf("Error in load config %v", err)
	}

	cfg, err := ParseConfig(v)
	if err != nil {
		log.Fatalf("Error in parse config %v", err)
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		cfg.Server.Port = envPort
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("Unable to parse config: %v", err)
		return nil, err
	}
	return &cfg, nil
}

func LoadConfig(filename string, fileType string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(fileType)
	v.SetConfigName(filename)

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./infrastructure/config")
	v.AddConfigPath("../config")
	v.AddConfigPath("../../config")

	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Unable to read config: %v", err)
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.violationThreshold", 3)
	v.SetDefault("gateway.maxMessageLength", 2000)
	v.SetDefault("gateway.historyLimit", 50)
	v.SetDefault("gateway.replayLimit", 50)
	v.SetDefault("gateway.channelRetention", 100)
	v.SetDefault("gateway.heartbeatInterval", 30*time.Second)
	v.SetDefault("gateway.pongWait", 60*time.Second)
	v.SetDefault("gateway.writeWait", 10*time.Second)
	v.SetDefault("gateway.maxFrameBytes", 32768)
	v.SetDefault("gateway.connectLimit.max", 10)
	v.SetDefault("gateway.connectLimit.window", time.Minute)
	v.SetDefault("gateway.joinLimit.max", 30)
	v.SetDefault("gateway.joinLimit.window", time.Minute)
	v.SetDefault("gateway.sendLimit.max", 30)
	v.SetDefault("gateway.sendLimit.window", time.Minute)
}

func getConfigPath(env string) string {
	switch env {
	case "docker":
		return "config-docker"
	case "production":
		return "config-production"
	default:
		return "config-development"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Postgres.Host == "" {
		return errors.New("postgres.host is required")
	}
	if c.Postgres.DbName == "" {
		return errors.New("postgres.dbName is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Gateway.ViolationThreshold < 1 {
		return errors.New("gateway.violationThreshold must be at least 1")
	}
	if c.Gateway.MaxMessageLength < 1 {
		return errors.New("gateway.maxMessageLength must be at least 1")
	}
	for name, rl := range map[string]RateLimitConfig{
		"gateway.connectLimit": c.Gateway.ConnectLimit,
		"gateway.joinLimit":    c.Gateway.JoinLimit,
		"gateway.sendLimit":    c.Gateway.SendLimit,
	} {
		if rl.Max < 1 {
			return fmt.Errorf("%s.max must be at least 1", name)
		}
		if rl.Window <= 0 {
			return fmt.Errorf("%s.window must be positive", name)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.RunMode == "release" || c.Server.RunMode == "production"
}

func (c *Config) GetPostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DbName,
		c.Postgres.SSLMode,
	)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%s", c.Server.Port)
}
