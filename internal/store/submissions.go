package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

const submissionColumns = `
	id, project_id, student_id, otp_id, file_path, file_name,
	file_size, file_type_tag, file_hash, submitted_at`

func (s *BaseStore) insertSubmission(ctx context.Context, tx *sqlx.Tx, sub *models.Submission) error {
	err := tx.QueryRowxContext(ctx, s.Converter(`
		INSERT INTO submissions (
			project_id, student_id, otp_id, file_path, file_name,
			file_size, file_type_tag, file_hash, submitted_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		sub.ProjectID, sub.StudentID, sub.OTPID, sub.FilePath, sub.FileName,
		sub.FileSize, sub.FileTypeTag, sub.FileHash, sub.SubmittedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (s *BaseStore) GetSubmissionByOTP(ctx context.Context, otpID int64) (*models.Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sub models.Submission
	err := s.DB.GetContext(ctx, &sub, s.Converter(`SELECT `+submissionColumns+` FROM submissions WHERE otp_id = ?`), otpID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}

func (s *BaseStore) ListSubmissions(ctx context.Context, projectID int64) ([]models.Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var subs []models.Submission
	err := s.DB.SelectContext(ctx, &subs, s.Converter(`
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE project_id = ?
		ORDER BY submitted_at ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// ListSubmissionsBefore returns submissions older than the cutoff across all
// projects, oldest first.
func (s *BaseStore) ListSubmissionsBefore(ctx context.Context, before time.Time) ([]models.Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var subs []models.Submission
	err := s.DB.SelectContext(ctx, &subs, s.Converter(`
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE submitted_at < ?
		ORDER BY submitted_at ASC, id ASC
	`), before.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list old submissions: %w", err)
	}
	return subs, nil
}

func (s *BaseStore) DeleteSubmission(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.DB.ExecContext(ctx, s.Converter(`DELETE FROM submissions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete submission %d: %w", id, err)
	}
	return nil
}
