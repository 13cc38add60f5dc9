// config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultAdminIdentity is the only caller allowed to run the administrative reset.
const DefaultAdminIdentity = "ops-admin"

type Config struct {
	Env            string   `env:"APP_ENV" envDefault:"development"`
	ListenAddr     string   `env:"LISTEN_ADDR" envDefault:":5200"`
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	RedisURL       string   `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Gateway requests carry this token; direct clients use JWTs signed with JWTSecret.
	GatewayToken  string `env:"GAME_SERVICE_TOKEN"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	AdminIdentity string `env:"ADMIN_IDENTITY" envDefault:"ops-admin"`

	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	FinalizePollInterval time.Duration `env:"FINALIZE_POLL_INTERVAL" envDefault:"30s"`
	IntentStaleness      time.Duration `env:"INTENT_STALENESS" envDefault:"30s"`
	StreamPollInterval   time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s"`

	CodeReissueInterval time.Duration `env:"CODE_REISSUE_INTERVAL" envDefault:"60s"`
	CodeTTL             time.Duration `env:"CODE_TTL" envDefault:"10m"`
	CodeMaxAttempts     int           `env:"CODE_MAX_ATTEMPTS" envDefault:"5"`

	Archive ArchiveConfig `envPrefix:"R2_"`
}

// ArchiveConfig points at the R2 bucket that receives finished game records.
// Archiving is skipped when Bucket is empty.
type ArchiveConfig struct {
	AccountID       string `env:"ACCOUNT_ID"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	AccessKeySecret string `env:"ACCESS_KEY_SECRET"`
	Bucket          string `env:"BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	// a missing .env is fine, variables may come from the process environment
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AdminIdentity == "" {
		cfg.AdminIdentity = DefaultAdminIdentity
	}
	return &cfg, nil
}
