package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

type OTPStore interface {
	CreatePending(ctx context.Context, p CreatePendingParams) (*models.OTP, bool, error)
	GetOTP(ctx context.Context, id int64) (*models.OTP, error)
	GetOTPBySubmitToken(ctx context.Context, token string) (*models.OTP, error)
	BindTelegram(ctx context.Context, otpID, userID, chatID int64, username string) (*models.OTP, error)
	TryVerify(ctx context.Context, otpID int64, code string, client models.ClientInfo) (*models.VerifyResult, error)
	ConsumeForSubmission(ctx context.Context, token string, client models.ClientInfo, persist PersistFunc) (*models.OTP, *models.Submission, error)
	ExpireDue(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
	AppendLog(ctx context.Context, entry *models.OTPLogEntry) error
	ListLogs(ctx context.Context, otpID int64) ([]models.OTPLogEntry, error)
}

type Catalog interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetSection(ctx context.Context, id int64) (*models.Section, error)
	GetStudent(ctx context.Context, id int64) (*models.Student, error)
	ListRoster(ctx context.Context, sectionID int64) ([]models.Student, error)
	BindStudentTelegram(ctx context.Context, studentID, userID int64, username string) error
}

type SubmissionStore interface {
	GetSubmissionByOTP(ctx context.Context, otpID int64) (*models.Submission, error)
	ListSubmissions(ctx context.Context, projectID int64) ([]models.Submission, error)
	ListSubmissionsBefore(ctx context.Context, before time.Time) ([]models.Submission, error)
	DeleteSubmission(ctx context.Context, id int64) error
}

type Store interface {
	Close() error
	Ping(ctx context.Context) error
	ApplyMigrations(dir string) error

	OTPStore
	Catalog
	SubmissionStore
}

// BaseStore carries the SQL shared by every dialect. Dialect packages fill in
// the placeholder converter and the locking hooks.
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string

	// ForUpdate is appended to row reads that precede a write in the same
	// transaction. Empty where the driver serializes transactions itself.
	ForUpdate string
	// LockKey takes a transaction-scoped lock on an arbitrary key. Nil means
	// the dialect already serializes writers.
	LockKey func(ctx context.Context, tx *sqlx.Tx, key string) error

	StatementTimeout time.Duration
	Clock            func() time.Time
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *BaseStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// ApplyMigrations applies SQL migrations from a directory in file name order,
// translating dialect if needed. Every statement is written to be re-runnable.
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Debug.Printf("Applying migration: %s", file.Name())
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *BaseStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StatementTimeout
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *BaseStore) lockClause() string {
	if s.ForUpdate == "" {
		return ""
	}
	return " " + s.ForUpdate
}

// inTx commits when fn returns nil. Callers that must persist a state change
// and still report a domain error stash that error outside fn.
func (s *BaseStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error.Printf("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
