package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend selectors.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageMongo  = "mongo"
)

// ServerConfig holds all configuration for the grant server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	Issuer    string `mapstructure:"ISSUER"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	Storage     string `mapstructure:"STORAGE"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`

	AuthCodeTTLMin     int `mapstructure:"AUTH_CODE_TTL_MIN"`
	AccessTokenTTLMin  int `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHr  int `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	DeviceCodeTTLMin   int `mapstructure:"DEVICE_CODE_TTL_MIN"`
	DevicePollInterval int `mapstructure:"DEVICE_POLL_INTERVAL_SEC"`

	// UserCodeType selects the user code format: "numeric" or "charset".
	UserCodeType string `mapstructure:"USER_CODE_TYPE"`
}

// AuthCodeTTL returns the authorization code lifetime.
func (c *ServerConfig) AuthCodeTTL() time.Duration {
	return time.Duration(c.AuthCodeTTLMin) * time.Minute
}

// AccessTokenTTL returns the access token lifetime.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *ServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHr) * time.Hour
}

// DeviceCodeTTL returns the device/user code lifetime.
func (c *ServerConfig) DeviceCodeTTL() time.Duration {
	return time.Duration(c.DeviceCodeTTLMin) * time.Minute
}

// DeviceInterval returns the minimum device polling interval.
func (c *ServerConfig) DeviceInterval() time.Duration {
	return time.Duration(c.DevicePollInterval) * time.Second
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/grantd/")
	v.AddConfigPath("$HOME/.grantd")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "grantd")
	v.SetDefault("STORAGE", StorageMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/grantd_dev")
	v.SetDefault("MONGO_DB_NAME", "grantd_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("AUTH_CODE_TTL_MIN", 5)
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720)
	v.SetDefault("DEVICE_CODE_TTL_MIN", 10)
	v.SetDefault("DEVICE_POLL_INTERVAL_SEC", 5)
	v.SetDefault("USER_CODE_TYPE", "numeric")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
