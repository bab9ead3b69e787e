package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/taslim/internal/store"
)

const minimalConfig = `
[server]
port = ":8080"

[database]
dsn = ":memory:"
migrations_dir = "../../migrations"

[telegram]
bot_token = "123:abc"
bot_username = "taslim_bot"

[signer]
secret = "file-secret"
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.OTP.TTLMinutes)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL())
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, 0.80, cfg.OTP.NameMatchThreshold)
	assert.Equal(t, 24*time.Hour, cfg.OTPRetention())
	assert.Equal(t, int64(20), cfg.RateLimit.InitPerIPPerMin)
	assert.Equal(t, int64(60), cfg.RateLimit.VerifyPerIPPerMin)
	assert.Equal(t, int64(10), cfg.RateLimit.BotStartPerUserPerMin)
	assert.Equal(t, 10*time.Second, cfg.Server.HandlerTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Telegram.Timeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Database.StatementTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval.Duration)
	assert.Equal(t, "local", cfg.Storage.Provider)
}

func TestLoadConfigValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
[otp]
ttl_minutes = 15
name_match_threshold = 0.9
require_signed_payload = true

[sweeper]
interval = "30s"

[cors]
allowed_origins = ["https://school.example"]

[[gsheet]]
sheet_id = "abc"
sheet_name = "Submissions"
project_ids = [5, 6]
schedule = "*/10 * * * *"
`))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.OTP.TTLMinutes)
	assert.Equal(t, 0.9, cfg.OTP.NameMatchThreshold)
	assert.True(t, cfg.OTP.RequireSignedPayload)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval.Duration)
	assert.Equal(t, []string{"https://school.example"}, cfg.CORS.AllowedOrigins)
	require.Len(t, cfg.GSheet, 1)
	assert.Equal(t, []int64{5, 6}, cfg.GSheet[0].ProjectIDs)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SIGNER_SECRET", "env-secret")
	t.Setenv("SIGNER_PREVIOUS_SECRETS", "old-1, old-2,")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db/taslim")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Signer.Secret)
	assert.Equal(t, []string{"old-1", "old-2"}, cfg.Signer.PreviousSecrets)
	assert.Equal(t, store.DBTypePostgres, DetectDBType(cfg.Database.DSN))
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `[server]
port = ":8080"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer.secret")
	assert.Contains(t, err.Error(), "telegram.bot_username")

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
[otp]
name_match_threshold = 1.5
`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
[storage]
provider = "s3"
`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
[sweeper]
interval = "soon"
`))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestNewStoreSQLite(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, store.DBTypeSQLite, DetectDBType(cfg.Database.DSN))

	s, err := NewStore(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	counter, err := NewCounter(cfg)
	require.NoError(t, err)
	defer counter.Close()
}
