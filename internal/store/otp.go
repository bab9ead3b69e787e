package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/taslim/internal/codes"
	"github.com/shrimpsizemoose/taslim/internal/models"
)

const otpColumns = `
	id, project_id, student_id, student_name, code, status, expires_at,
	attempts, max_attempts, submit_token, submit_token_expires_at,
	signed_payload, telegram_user_id, telegram_chat_id, telegram_username,
	ip, created_at, updated_at, verified_at, used_at`

func (s *BaseStore) CreatePending(ctx context.Context, p CreatePendingParams) (*models.OTP, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		otp     *models.OTP
		created bool
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if s.LockKey != nil {
			key := fmt.Sprintf("otp:%d:%d", p.ProjectID, p.StudentID)
			if err := s.LockKey(ctx, tx, key); err != nil {
				return fmt.Errorf("failed to lock student pair: %w", err)
			}
		}

		now := s.now()
		var existing models.OTP
		err := tx.GetContext(ctx, &existing, s.Converter(`
			SELECT `+otpColumns+`
			FROM project_otp
			WHERE project_id = ?
			AND student_id = ?
			AND status IN ('pending', 'verified')
			AND expires_at > ?
			ORDER BY id DESC
			LIMIT 1
		`), p.ProjectID, p.StudentID, now.Unix())
		if err == nil {
			otp = &existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up active otp: %w", err)
		}

		code, err := codes.GenerateCode(codes.DefaultCodeLength)
		if err != nil {
			return err
		}

		fresh := models.OTP{
			ProjectID:     p.ProjectID,
			StudentID:     &p.StudentID,
			StudentName:   p.StudentName,
			Code:          code,
			Status:        models.OTPStatusPending,
			ExpiresAt:     now.Add(ttl).Unix(),
			MaxAttempts:   maxAttempts,
			SignedPayload: p.SignedPayload,
			IP:            p.Client.IP,
			CreatedAt:     now.Unix(),
			UpdatedAt:     now.Unix(),
		}
		err = tx.QueryRowxContext(ctx, s.Converter(`
			INSERT INTO project_otp (
				project_id, student_id, student_name, code, status, expires_at,
				attempts, max_attempts, signed_payload, ip, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
			RETURNING id
		`),
			fresh.ProjectID, p.StudentID, fresh.StudentName, fresh.Code, fresh.Status, fresh.ExpiresAt,
			fresh.MaxAttempts, fresh.SignedPayload, fresh.IP, fresh.CreatedAt, fresh.UpdatedAt,
		).Scan(&fresh.ID)
		if err != nil {
			return fmt.Errorf("failed to insert otp: %w", err)
		}

		if err := s.appendLog(ctx, tx, fresh.ID, models.ActionInit, fmt.Sprintf("student=%s", p.StudentName), p.Client); err != nil {
			return err
		}

		otp = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return otp, created, nil
}

func (s *BaseStore) GetOTP(ctx context.Context, id int64) (*models.OTP, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var otp models.OTP
	err := s.DB.GetContext(ctx, &otp, s.Converter(`SELECT `+otpColumns+` FROM project_otp WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}
	return &otp, nil
}

func (s *BaseStore) GetOTPBySubmitToken(ctx context.Context, token string) (*models.OTP, error) {
	if token == "" {
		return nil, models.ErrTokenInvalid
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var otp models.OTP
	err := s.DB.GetContext(ctx, &otp, s.Converter(`SELECT `+otpColumns+` FROM project_otp WHERE submit_token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp by token: %w", err)
	}
	return &otp, nil
}

// BindTelegram records who opened the deep link. Only a pending OTP is
// updated; for any other status the row is returned unchanged.
func (s *BaseStore) BindTelegram(ctx context.Context, otpID, userID, chatID int64, username string) (*models.OTP, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var otp *models.OTP
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		row, err := s.lockOTP(ctx, tx, otpID)
		if err != nil {
			return err
		}
		otp = row
		if row.Status != models.OTPStatusPending {
			return nil
		}

		now := s.now().Unix()
		var uname *string
		if username != "" {
			uname = &username
		}
		_, err = tx.ExecContext(ctx, s.Converter(`
			UPDATE project_otp
			SET telegram_user_id = ?, telegram_chat_id = ?, telegram_username = ?, updated_at = ?
			WHERE id = ?
		`), userID, chatID, uname, now, otpID)
		if err != nil {
			return fmt.Errorf("failed to bind telegram: %w", err)
		}
		otp.TelegramUserID = &userID
		otp.TelegramChatID = &chatID
		otp.TelegramUsername = uname
		otp.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return otp, nil
}

func (s *BaseStore) TryVerify(ctx context.Context, otpID int64, code string, client models.ClientInfo) (*models.VerifyResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		result    *models.VerifyResult
		verifyErr error
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		otp, err := s.lockOTP(ctx, tx, otpID)
		if err != nil {
			return err
		}
		now := s.now()

		switch otp.Status {
		case models.OTPStatusUsed, models.OTPStatusVerified:
			verifyErr = models.ErrOTPAlreadyUsed
			return nil
		case models.OTPStatusExpired:
			verifyErr = models.ErrOTPExpired
			return nil
		}
		if otp.IsExpiredAt(now) || otp.Attempts >= otp.MaxAttempts {
			verifyErr = models.ErrOTPExpired
			return s.markExpired(ctx, tx, otp, now, "expired before verify", client)
		}

		if err := s.appendLog(ctx, tx, otp.ID, models.ActionVerifyAttempt, "", client); err != nil {
			return err
		}

		if subtle.ConstantTimeCompare([]byte(code), []byte(otp.Code)) != 1 {
			otp.Attempts++
			status := otp.Status
			if otp.Attempts >= otp.MaxAttempts {
				status = models.OTPStatusExpired
			}
			_, err := tx.ExecContext(ctx, s.Converter(`
				UPDATE project_otp SET attempts = ?, status = ?, updated_at = ? WHERE id = ?
			`), otp.Attempts, status, now.Unix(), otp.ID)
			if err != nil {
				return fmt.Errorf("failed to record attempt: %w", err)
			}
			details := fmt.Sprintf("attempts=%d/%d", otp.Attempts, otp.MaxAttempts)
			if err := s.appendLog(ctx, tx, otp.ID, models.ActionVerifyFailed, details, client); err != nil {
				return err
			}
			if status == models.OTPStatusExpired {
				if err := s.appendLog(ctx, tx, otp.ID, models.ActionExpired, "attempts exhausted", client); err != nil {
					return err
				}
			}
			otp.Status = status
			verifyErr = models.CodeMismatch(otp.AttemptsLeft())
			return nil
		}

		duration, err := s.submissionDuration(ctx, tx, otp.ProjectID)
		if err != nil {
			return err
		}
		token, err := s.uniqueSubmitToken(ctx, tx)
		if err != nil {
			return err
		}
		tokenExpires := now.Add(duration).Unix()
		verifiedAt := now.Unix()

		_, err = tx.ExecContext(ctx, s.Converter(`
			UPDATE project_otp
			SET status = ?, verified_at = ?, submit_token = ?, submit_token_expires_at = ?, updated_at = ?
			WHERE id = ?
		`), models.OTPStatusVerified, verifiedAt, token, tokenExpires, verifiedAt, otp.ID)
		if err != nil {
			return fmt.Errorf("failed to mark otp verified: %w", err)
		}
		if err := s.appendLog(ctx, tx, otp.ID, models.ActionVerifySuccess, "", client); err != nil {
			return err
		}

		otp.Status = models.OTPStatusVerified
		otp.VerifiedAt = &verifiedAt
		otp.SubmitToken = &token
		otp.SubmitTokenExpiresAt = &tokenExpires
		otp.UpdatedAt = verifiedAt
		result = &models.VerifyResult{OTP: otp, SubmitToken: token, ExpiresIn: duration}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	return result, nil
}

// ConsumeForSubmission turns a verified OTP into a used one exactly once.
// persist runs under the row lock, so a concurrent consumer of the same token
// waits and then sees status=used. It must not do network or disk I/O.
func (s *BaseStore) ConsumeForSubmission(ctx context.Context, token string, client models.ClientInfo, persist PersistFunc) (*models.OTP, *models.Submission, error) {
	if token == "" {
		return nil, nil, models.ErrTokenInvalid
	}

	var (
		otp        *models.OTP
		submission *models.Submission
		consumeErr error
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var row models.OTP
		err := tx.GetContext(ctx, &row, s.Converter(`
			SELECT `+otpColumns+` FROM project_otp WHERE submit_token = ?`+s.lockClause()), token)
		if errors.Is(err, sql.ErrNoRows) {
			consumeErr = models.ErrTokenInvalid
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock otp by token: %w", err)
		}
		now := s.now()

		switch row.Status {
		case models.OTPStatusUsed:
			consumeErr = models.ErrOTPAlreadyUsed
			return nil
		case models.OTPStatusVerified:
		default:
			consumeErr = models.ErrTokenInvalid
			return nil
		}
		if row.SubmitTokenExpiresAt == nil || now.Unix() >= *row.SubmitTokenExpiresAt {
			consumeErr = models.ErrTokenInvalid
			return s.markExpired(ctx, tx, &row, now, "submit token expired", client)
		}

		if persist != nil {
			sub, err := persist(&row)
			if err != nil {
				return err
			}
			submission = sub
		}

		usedAt := now.Unix()
		_, err = tx.ExecContext(ctx, s.Converter(`
			UPDATE project_otp SET status = ?, used_at = ?, updated_at = ? WHERE id = ?
		`), models.OTPStatusUsed, usedAt, usedAt, row.ID)
		if err != nil {
			return fmt.Errorf("failed to mark otp used: %w", err)
		}
		if err := s.appendLog(ctx, tx, row.ID, models.ActionUsed, "", client); err != nil {
			return err
		}

		if submission != nil {
			submission.OTPID = row.ID
			submission.ProjectID = row.ProjectID
			submission.StudentID = row.StudentID
			submission.SubmittedAt = usedAt
			if err := s.insertSubmission(ctx, tx, submission); err != nil {
				return err
			}
		}

		row.Status = models.OTPStatusUsed
		row.UsedAt = &usedAt
		row.UpdatedAt = usedAt
		otp = &row
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if consumeErr != nil {
		return nil, nil, consumeErr
	}
	return otp, submission, nil
}

// ExpireDue flips pending OTPs past expires_at to expired. Safe to run
// concurrently with itself and with verification.
func (s *BaseStore) ExpireDue(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now().Unix()
		var ids []int64
		err := tx.SelectContext(ctx, &ids, s.Converter(`
			UPDATE project_otp
			SET status = 'expired', updated_at = ?
			WHERE status = 'pending' AND expires_at <= ?
			RETURNING id
		`), now, now)
		if err != nil {
			return fmt.Errorf("failed to expire otps: %w", err)
		}
		for _, id := range ids {
			if err := s.appendLog(ctx, tx, id, models.ActionExpired, "sweeper", models.ClientInfo{}); err != nil {
				return err
			}
		}
		count = len(ids)
		return nil
	})
	return count, err
}

// PurgeExpired deletes expired OTPs (and their logs) whose expires_at is
// before the cutoff. Used OTPs stay because submissions reference them.
func (s *BaseStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.Converter(`
			DELETE FROM otp_logs WHERE otp_id IN (
				SELECT id FROM project_otp WHERE status = 'expired' AND expires_at < ?
			)
		`), before.Unix())
		if err != nil {
			return fmt.Errorf("failed to purge otp logs: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.Converter(`
			DELETE FROM project_otp WHERE status = 'expired' AND expires_at < ?
		`), before.Unix())
		if err != nil {
			return fmt.Errorf("failed to purge otps: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(n)
		return nil
	})
	return count, err
}

func (s *BaseStore) AppendLog(ctx context.Context, entry *models.OTPLogEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.appendLog(ctx, s.DB, entry.OTPID, entry.Action, entry.Details, models.ClientInfo{IP: entry.IP, UserAgent: entry.UserAgent})
}

func (s *BaseStore) ListLogs(ctx context.Context, otpID int64) ([]models.OTPLogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entries []models.OTPLogEntry
	err := s.DB.SelectContext(ctx, &entries, s.Converter(`
		SELECT id, otp_id, action, details, ip, user_agent, created_at
		FROM otp_logs
		WHERE otp_id = ?
		ORDER BY id ASC
	`), otpID)
	if err != nil {
		return nil, fmt.Errorf("failed to list otp logs: %w", err)
	}
	return entries, nil
}

func (s *BaseStore) appendLog(ctx context.Context, ex sqlx.ExecerContext, otpID int64, action models.OTPAction, details string, client models.ClientInfo) error {
	_, err := ex.ExecContext(ctx, s.Converter(`
		INSERT INTO otp_logs (otp_id, action, details, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), otpID, action, details, client.IP, client.UserAgent, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append otp log: %w", err)
	}
	return nil
}

func (s *BaseStore) lockOTP(ctx context.Context, tx *sqlx.Tx, id int64) (*models.OTP, error) {
	var otp models.OTP
	err := tx.GetContext(ctx, &otp, s.Converter(`SELECT `+otpColumns+` FROM project_otp WHERE id = ?`+s.lockClause()), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock otp: %w", err)
	}
	return &otp, nil
}

// markExpired also drops any submit token: only verified rows carry a live
// token and only used rows keep theirs as a tombstone.
func (s *BaseStore) markExpired(ctx context.Context, tx *sqlx.Tx, otp *models.OTP, now time.Time, reason string, client models.ClientInfo) error {
	_, err := tx.ExecContext(ctx, s.Converter(`
		UPDATE project_otp
		SET status = ?, submit_token = NULL, submit_token_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`), models.OTPStatusExpired, now.Unix(), otp.ID)
	if err != nil {
		return fmt.Errorf("failed to expire otp: %w", err)
	}
	otp.Status = models.OTPStatusExpired
	otp.SubmitToken = nil
	otp.SubmitTokenExpiresAt = nil
	return s.appendLog(ctx, tx, otp.ID, models.ActionExpired, reason, client)
}

func (s *BaseStore) submissionDuration(ctx context.Context, tx *sqlx.Tx, projectID int64) (time.Duration, error) {
	var minutes int
	err := tx.GetContext(ctx, &minutes, s.Converter(`
		SELECT submission_duration_min FROM projects WHERE id = ?
	`), projectID)
	if errors.Is(err, sql.ErrNoRows) {
		minutes = 0
	} else if err != nil {
		return 0, fmt.Errorf("failed to read submission duration: %w", err)
	}
	p := models.Project{SubmissionDurationMin: minutes}
	return p.SubmissionDuration(), nil
}

func (s *BaseStore) uniqueSubmitToken(ctx context.Context, tx *sqlx.Tx) (string, error) {
	for i := 0; i < submitTokenRetries; i++ {
		token, err := codes.GenerateSubmitToken()
		if err != nil {
			return "", err
		}
		var n int
		err = tx.GetContext(ctx, &n, s.Converter(`SELECT COUNT(*) FROM project_otp WHERE submit_token = ?`), token)
		if err != nil {
			return "", fmt.Errorf("failed to check submit token: %w", err)
		}
		if n == 0 {
			return token, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique submit token after %d tries", submitTokenRetries)
}
