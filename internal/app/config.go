package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

// Duration lets TOML carry values like "10s" or "1m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type GSheetConfig struct {
	CredentialsPath string  `toml:"credentials_path"`
	SheetID         string  `toml:"sheet_id"`
	SheetName       string  `toml:"sheet_name"`
	ProjectIDs      []int64 `toml:"project_ids"`
	Schedule        string  `toml:"schedule"`
}

type Config struct {
	Server struct {
		Port           string   `toml:"port"`
		APIBaseURL     string   `toml:"api_base_url"`
		FrontendURL    string   `toml:"frontend_url"`
		HandlerTimeout Duration `toml:"handler_timeout"`
		MaxUploadMB    int64    `toml:"max_upload_mb"`
		// TrustedProxy honors X-Forwarded-For and X-Real-IP. Enable only
		// behind a proxy that overwrites them.
		TrustedProxy bool `toml:"trusted_proxy"`
	} `toml:"server"`

	Database struct {
		DSN              string   `toml:"dsn"`
		MigrationsDir    string   `toml:"migrations_dir"`
		StatementTimeout Duration `toml:"statement_timeout"`
	} `toml:"database"`

	Redis struct {
		URL string `toml:"url"`
	} `toml:"redis"`

	Telegram struct {
		BotToken    string   `toml:"bot_token"`
		BotUsername string   `toml:"bot_username"`
		Timeout     Duration `toml:"timeout"`
		PollTimeout int      `toml:"poll_timeout"`
	} `toml:"telegram"`

	Signer struct {
		Secret          string   `toml:"secret"`
		PreviousSecrets []string `toml:"previous_secrets"`
		PayloadTTL      Duration `toml:"payload_ttl"`
	} `toml:"signer"`

	OTP struct {
		TTLMinutes                int     `toml:"ttl_minutes"`
		MaxAttempts               int     `toml:"max_attempts"`
		NameMatchThreshold        float64 `toml:"name_match_threshold"`
		RequireSignedPayload      bool    `toml:"require_signed_payload"`
		RecheckMembershipOnSubmit bool    `toml:"recheck_membership_on_submit"`
		RetentionHours            int     `toml:"retention_hours"`
	} `toml:"otp"`

	RateLimit struct {
		InitPerIPPerMin       int64 `toml:"init_per_ip_per_min"`
		VerifyPerIPPerMin     int64 `toml:"verify_per_ip_per_min"`
		BotStartPerUserPerMin int64 `toml:"bot_start_per_user_per_min"`
	} `toml:"rate_limit"`

	Storage struct {
		Provider                string `toml:"provider"`
		Root                    string `toml:"root"`
		SubmissionRetentionDays int    `toml:"submission_retention_days"`
	} `toml:"storage"`

	Minio struct {
		Endpoint  string `toml:"endpoint"`
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
		Bucket    string `toml:"bucket"`
		Region    string `toml:"region"`
		UseSSL    bool   `toml:"use_ssl"`
	} `toml:"minio"`

	CORS struct {
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"cors"`

	Sweeper struct {
		Interval Duration `toml:"interval"`
	} `toml:"sweeper"`

	GSheet []GSheetConfig `toml:"gsheet"`
}

func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTP.TTLMinutes) * time.Minute
}

func (c *Config) OTPRetention() time.Duration {
	return time.Duration(c.OTP.RetentionHours) * time.Hour
}

// pollGrace is added on top of the long-poll timeout so the HTTP client never
// cuts off a getUpdates call that Telegram is still allowed to hold.
const pollGrace = 10 * time.Second

// TelegramClientTimeout bounds every Bot API HTTP call. It must outlast a
// long poll; per-call limits for membership checks come from
// telegram.timeout through the oracle's context.
func (c *Config) TelegramClientTimeout() time.Duration {
	poll := time.Duration(c.Telegram.PollTimeout)*time.Second + pollGrace
	if c.Telegram.Timeout.Duration > poll {
		return c.Telegram.Timeout.Duration
	}
	return poll
}

func (c *Config) applyDefaults() {
	if c.Server.HandlerTimeout.Duration == 0 {
		c.Server.HandlerTimeout.Duration = 10 * time.Second
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 100
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "./migrations"
	}
	if c.Database.StatementTimeout.Duration == 0 {
		c.Database.StatementTimeout.Duration = 2 * time.Second
	}
	if c.Telegram.Timeout.Duration == 0 {
		c.Telegram.Timeout.Duration = 5 * time.Second
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 60
	}
	if c.Signer.PayloadTTL.Duration == 0 {
		c.Signer.PayloadTTL.Duration = 30 * 24 * time.Hour
	}
	if c.OTP.TTLMinutes == 0 {
		c.OTP.TTLMinutes = 10
	}
	if c.OTP.MaxAttempts == 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.OTP.NameMatchThreshold == 0 {
		c.OTP.NameMatchThreshold = 0.80
	}
	if c.OTP.RetentionHours == 0 {
		c.OTP.RetentionHours = 24
	}
	if c.RateLimit.InitPerIPPerMin == 0 {
		c.RateLimit.InitPerIPPerMin = 20
	}
	if c.RateLimit.VerifyPerIPPerMin == 0 {
		c.RateLimit.VerifyPerIPPerMin = 60
	}
	if c.RateLimit.BotStartPerUserPerMin == 0 {
		c.RateLimit.BotStartPerUserPerMin = 10
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "local"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	}
	if c.Sweeper.Interval.Duration == 0 {
		c.Sweeper.Interval.Duration = time.Minute
	}
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Signer.Secret, "SIGNER_SECRET")
	override(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	override(&c.Database.DSN, "DATABASE_DSN")
	override(&c.Redis.URL, "REDIS_URL")
	override(&c.Minio.SecretKey, "MINIO_SECRET_KEY")

	if v := os.Getenv("SIGNER_PREVIOUS_SECRETS"); v != "" {
		var previous []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				previous = append(previous, s)
			}
		}
		c.Signer.PreviousSecrets = previous
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.Signer.Secret == "" {
		missing = append(missing, "signer.secret")
	}
	if c.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if c.Telegram.BotUsername == "" {
		missing = append(missing, "telegram.bot_username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config values: %s", strings.Join(missing, ", "))
	}

	if c.OTP.NameMatchThreshold <= 0 || c.OTP.NameMatchThreshold > 1 {
		return fmt.Errorf("otp.name_match_threshold must be in (0, 1], got %v", c.OTP.NameMatchThreshold)
	}
	switch c.Storage.Provider {
	case "local":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("storage.provider is minio but minio.endpoint or minio.bucket is empty")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}

// LoadConfig reads .env (when present) and the TOML file, fills defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}

	logger.Debug.Printf(
		"Loaded config: port=%s storage=%s otp_ttl=%dm max_attempts=%d redis=%t",
		config.Server.Port,
		config.Storage.Provider,
		config.OTP.TTLMinutes,
		config.OTP.MaxAttempts,
		config.Redis.URL != "",
	)

	return &config, nil
}
