package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string `env:"RABBITMQ_URL,required=true"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	ProfileCallbackURL string `env:"PROFILE_CALLBACK_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,required=true"`

	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE,required=true"`

	SendRateLimitPerSec int `env:"SEND_RATE_LIMIT_PER_SEC,default=100"`
	DispatchBatchSize   int `env:"DISPATCH_BATCH_SIZE,default=50"`
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY,default=16"`
	DispatchPollSec     int `env:"DISPATCH_POLL_INTERVAL_SEC,default=2"`
	ClaimLeaseSec       int `env:"CLAIM_LEASE_SEC,default=120"`
	RetryBaseDelaySec   int `env:"RETRY_BASE_DELAY_SEC,default=30"`
	RetryMaxDelaySec    int `env:"RETRY_MAX_DELAY_SEC,default=600"`
	RetryMaxAttempts    int `env:"RETRY_MAX_ATTEMPTS,default=5"`
	ConsumerPrefetch    int `env:"CONSUMER_PREFETCH,default=32"`

	APIPort    int    `env:"API_PORT,default=8080"`
	SocketPort int    `env:"SOCKET_PORT,default=8081"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
