package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Keys     KeysConfig     `mapstructure:"keys"`
	GroupBid GroupBidConfig `mapstructure:"group_bid"`
	Push     PushConfig     `mapstructure:"push"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type KeysConfig struct {
	ServerKey  string `mapstructure:"server_key"`
	ClientKeys string `mapstructure:"client_keys"`
}

type GroupBidConfig struct {
	Permits        int           `mapstructure:"permits"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// PushConfig controls delivery of asynchronous overbid/win notices.
// Guarantee is either "best_effort" (undeliverable notices are dropped)
// or "queued" (held until the identity reconnects).
type PushConfig struct {
	Guarantee string `mapstructure:"guarantee"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AdminConfig struct {
	Port int `mapstructure:"port"`
}

const (
	GuaranteeBestEffort = "best_effort"
	GuaranteeQueued     = "queued"
)

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 13380)
	viper.SetDefault("keys.server_key", "keys/server.pem")
	viper.SetDefault("keys.client_keys", "keys/clients")
	viper.SetDefault("group_bid.permits", 2)
	viper.SetDefault("group_bid.confirm_timeout", 20*time.Second)
	viper.SetDefault("push.guarantee", GuaranteeQueued)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.enabled", false)
	viper.SetDefault("mysql.dsn", "billing_user:billing_pass@tcp(localhost:3306)/billing_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("admin.port", 8080)

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/auctionhouse/")

	// Environment variable support
	viper.AutomaticEnv()

	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("keys.server_key", "SERVER_KEY_PATH")
	viper.BindEnv("keys.client_keys", "CLIENT_KEY_DIR")
	viper.BindEnv("group_bid.permits", "GROUP_BID_PERMITS")
	viper.BindEnv("group_bid.confirm_timeout", "GROUP_BID_CONFIRM_TIMEOUT")
	viper.BindEnv("push.guarantee", "PUSH_GUARANTEE")
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.enabled", "MYSQL_ENABLED")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("admin.port", "ADMIN_PORT")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.GroupBid.Permits < 1 {
		return fmt.Errorf("group_bid.permits must be at least 1, got %d", c.GroupBid.Permits)
	}
	if c.GroupBid.ConfirmTimeout <= 0 {
		return fmt.Errorf("group_bid.confirm_timeout must be positive, got %s", c.GroupBid.ConfirmTimeout)
	}
	switch c.Push.Guarantee {
	case GuaranteeBestEffort, GuaranteeQueued:
	default:
		return fmt.Errorf("push.guarantee must be %q or %q, got %q",
			GuaranteeBestEffort, GuaranteeQueued, c.Push.Guarantee)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
