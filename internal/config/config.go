package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct{ Env, Port, LogLevel string }
type DBCfg struct{ DSN string }

type RedisCfg struct {
	Addr     string
	Password string
	DB       int
}

type MQCfg struct{ URL, Exchange string }

type AuthCfg struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	CleanupEvery    time.Duration
}

// MpesaCfg holds Daraja credentials. Missing values are reported by the
// gateway at use time, not at startup.
type MpesaCfg struct {
	Environment    string
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

type WorkerCfg struct {
	ReconcileEvery      time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileBatch      int
	ReconcileRejections int
	CallbackRetryEvery  time.Duration
	CallbackMaxAttempts int
}

type Cfg struct {
	App    AppCfg
	DB     DBCfg
	Redis  RedisCfg
	MQ     MQCfg
	Auth   AuthCfg
	Mpesa  MpesaCfg
	Worker WorkerCfg
}

// IsProduction reports whether the service runs against live money.
func (c Cfg) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads .env and the environment, failing fast on required settings.
func Load() Cfg {
	cfg, err := Read(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// Read is Load without the process exit.
func Read(dotenvPath string) (Cfg, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", dotenvPath).Msg("could not read dotenv file")
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RABBITMQ_EXCHANGE", "pharmacy.events")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("TOKEN_CLEANUP_INTERVAL", "24h")
	v.SetDefault("MPESA_ENVIRONMENT", "sandbox")
	v.SetDefault("MPESA_TIMEOUT", "15s")
	v.SetDefault("MPESA_MAX_RETRIES", 3)
	v.SetDefault("MPESA_RETRY_INTERVAL", "250ms")
	v.SetDefault("RECONCILE_INTERVAL", "1m")
	v.SetDefault("RECONCILE_STALE_AFTER", "3m")
	v.SetDefault("RECONCILE_BATCH", 50)
	v.SetDefault("RECONCILE_MAX_REJECTIONS", 5)
	v.SetDefault("CALLBACK_RETRY_INTERVAL", "15s")
	v.SetDefault("CALLBACK_MAX_ATTEMPTS", 5)

	cfg := Cfg{
		App: AppCfg{
			Env:      strings.ToLower(v.GetString("APP_ENV")),
			Port:     v.GetString("APP_PORT"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		DB: DBCfg{DSN: v.GetString("DB_DSN")},
		Redis: RedisCfg{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MQ: MQCfg{
			URL:      v.GetString("RABBITMQ_URL"),
			Exchange: v.GetString("RABBITMQ_EXCHANGE"),
		},
		Auth: AuthCfg{
			JWTSecret:       v.GetString("JWT_SECRET"),
			AccessTokenTTL:  v.GetDuration("ACCESS_TOKEN_TTL"),
			RefreshTokenTTL: v.GetDuration("REFRESH_TOKEN_TTL"),
			CleanupEvery:    v.GetDuration("TOKEN_CLEANUP_INTERVAL"),
		},
		Mpesa: MpesaCfg{
			Environment:    strings.ToLower(v.GetString("MPESA_ENVIRONMENT")),
			BaseURL:        strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
			ConsumerKey:    strings.TrimSpace(v.GetString("MPESA_CONSUMER_KEY")),
			ConsumerSecret: strings.TrimSpace(v.GetString("MPESA_CONSUMER_SECRET")),
			Shortcode:      strings.TrimSpace(v.GetString("MPESA_BUSINESS_SHORTCODE")),
			Passkey:        strings.TrimSpace(v.GetString("MPESA_PASSKEY")),
			CallbackURL:    strings.TrimSpace(v.GetString("MPESA_CALLBACK_URL")),
			Timeout:        v.GetDuration("MPESA_TIMEOUT"),
			MaxRetries:     v.GetInt("MPESA_MAX_RETRIES"),
			RetryInterval:  v.GetDuration("MPESA_RETRY_INTERVAL"),
		},
		Worker: WorkerCfg{
			ReconcileEvery:      v.GetDuration("RECONCILE_INTERVAL"),
			ReconcileStaleAfter: v.GetDuration("RECONCILE_STALE_AFTER"),
			ReconcileBatch:      v.GetInt("RECONCILE_BATCH"),
			ReconcileRejections: v.GetInt("RECONCILE_MAX_REJECTIONS"),
			CallbackRetryEvery:  v.GetDuration("CALLBACK_RETRY_INTERVAL"),
			CallbackMaxAttempts: v.GetInt("CALLBACK_MAX_ATTEMPTS"),
		},
	}

	if cfg.DB.DSN == "" {
		return cfg, errors.New("DB_DSN is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}
