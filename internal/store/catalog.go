package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/taslim/internal/models"
)

func (s *BaseStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var project models.Project
	err := s.DB.GetContext(ctx, &project, s.Converter(`
		SELECT
			id, section_id, title, instructions, requirements, deadline,
			max_file_size_mb, allowed_file_types, max_grade,
			allow_late_submission, submission_duration_min, is_active
		FROM projects
		WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

func (s *BaseStore) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var section models.Section
	err := s.DB.GetContext(ctx, &section, s.Converter(`
		SELECT id, grade_id, name, telegram_chat_id, invite_link
		FROM sections
		WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.CodeProjectNotFound, fmt.Sprintf("section %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return &section, nil
}

const studentColumns = `
	id, section_id, full_name, normalized_name, telegram_user_id,
	telegram_username, joined_telegram, joined_at`

func (s *BaseStore) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var student models.Student
	err := s.DB.GetContext(ctx, &student, s.Converter(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &student, nil
}

func (s *BaseStore) ListRoster(ctx context.Context, sectionID int64) ([]models.Student, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var students []models.Student
	err := s.DB.SelectContext(ctx, &students, s.Converter(`
		SELECT `+studentColumns+`
		FROM students
		WHERE section_id = ?
		ORDER BY id ASC
	`), sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	return students, nil
}

// BindStudentTelegram marks a roster entry as joined. The first join time is kept.
func (s *BaseStore) BindStudentTelegram(ctx context.Context, studentID, userID int64, username string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var uname *string
	if username != "" {
		uname = &username
	}
	res, err := s.DB.ExecContext(ctx, s.Converter(`
		UPDATE students
		SET telegram_user_id = ?,
			telegram_username = ?,
			joined_telegram = TRUE,
			joined_at = COALESCE(joined_at, ?)
		WHERE id = ?
	`), userID, uname, s.now().Unix(), studentID)
	if err != nil {
		return fmt.Errorf("failed to bind student telegram: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrStudentNotFound
	}
	return nil
}
