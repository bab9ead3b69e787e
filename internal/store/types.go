package store

import (
	"time"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

type DBConfig struct {
	DSN              string
	Type             DatabaseType
	MigrationsDir    string
	StatementTimeout time.Duration
}

// CreatePendingParams is everything create_pending needs besides the clock.
type CreatePendingParams struct {
	ProjectID     int64
	StudentID     int64
	StudentName   string
	SignedPayload string
	TTL           time.Duration
	MaxAttempts   int
	Client        models.ClientInfo
}

// PersistFunc runs inside the consume transaction after the token checks pass
// and before the OTP is marked used. A returned submission is inserted in the
// same transaction; an error rolls everything back.
type PersistFunc func(otp *models.OTP) (*models.Submission, error)

const (
	DefaultOTPTTL           = 10 * time.Minute
	DefaultMaxAttempts      = 5
	DefaultStatementTimeout = 2 * time.Second
	submitTokenRetries      = 5
)
