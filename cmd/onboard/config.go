package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Addr      string `env:"ONBOARD_ADDR,       default=:8572"`
	Debug     bool   `env:"ONBOARD_DEBUG,      default=false"`
	LogLevel  string `env:"ONBOARD_LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"ONBOARD_LOG_PRETTY, default=false"`

	DSN string `env:"ONBOARD_DSN, default=file::memory:?cache=shared"`

	SecureCookies  bool   `env:"ONBOARD_SECURE_COOKIES,   default=true"`
	HashUserIDs    bool   `env:"ONBOARD_HASH_USER_IDS,    default=false"`
	PhoneRegion    string `env:"ONBOARD_PHONE_REGION,     default=GB"`
	MaxOtpAttempts int    `env:"ONBOARD_MAX_OTP_ATTEMPTS, default=10"`
	OtpIssuer      string `env:"ONBOARD_OTP_ISSUER,       default=Payments"`

	Auth  AuthConfig
	Redis RedisConfig
	AWS   AWSConfig
}

type AuthConfig struct {
	SigningKey string `env:"ONBOARD_JWT_SIGNING_KEY"`
	Algorithm  string `env:"ONBOARD_JWT_ALG,  default=HS256"`
	Issuer     string `env:"ONBOARD_JWT_ISSUER"`
	JWKSetURL  string `env:"ONBOARD_JWKS_URL"`

	TokenTTL time.Duration `env:"ONBOARD_JWT_TTL, default=1h"`
}

// RedisConfig is optional. An empty Addr keeps carriers in memory.
type RedisConfig struct {
	Addr    string        `env:"ONBOARD_REDIS_ADDR"`
	DB      int           `env:"ONBOARD_REDIS_DB,      default=0"`
	Prefix  string        `env:"ONBOARD_REDIS_PREFIX,  default=onboard:carrier:"`
	Timeout time.Duration `env:"ONBOARD_REDIS_TIMEOUT, default=5s"`
}

// AWSConfig is optional. Without a region notifications are only logged.
type AWSConfig struct {
	Region      string `env:"ONBOARD_AWS_REGION"`
	FromAddress string `env:"ONBOARD_EMAIL_FROM, default=noreply@example.com"`
	SmsSenderID string `env:"ONBOARD_SMS_SENDER_ID"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	return &cfg, nil
}
