package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Redis     RedisConfig
	Presence  PresenceConfig
	Queue     QueueConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	// upper bound on a single credential validation; admission is rejected
	// if the validator does not answer in time.
	ValidateTimeout time.Duration `mapstructure:"validateTimeout"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// pub/sub channel shared by every gateway instance.
	Channel string
}

type PresenceConfig struct {
	// must exceed the transport ping interval so a healthy connection's
	// presence record never lapses.
	TTL time.Duration `mapstructure:"ttl"`
}

type QueueConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}
