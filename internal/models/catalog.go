package models

import (
	"strings"
	"time"
)

// Project, Section and Student are owned by the staff dashboard;
// this service only reads them (plus the roster telegram binding).

type Project struct {
	ID                    int64  `db:"id" json:"project_id"`
	SectionID             int64  `db:"section_id" json:"section_id"`
	Title                 string `db:"title" json:"title"`
	Instructions          string `db:"instructions" json:"instructions"`
	Requirements          string `db:"requirements" json:"requirements"`
	Deadline              int64  `db:"deadline" json:"deadline"`
	MaxFileSizeMB         int64  `db:"max_file_size_mb" json:"max_file_size_mb"`
	AllowedFileTypes      string `db:"allowed_file_types" json:"allowed_file_types"`
	MaxGrade              int    `db:"max_grade" json:"max_grade"`
	AllowLateSubmission   bool   `db:"allow_late_submission" json:"allow_late_submission"`
	SubmissionDurationMin int    `db:"submission_duration_min" json:"submission_duration_min"`
	IsActive              bool   `db:"is_active" json:"is_active"`
}

const DefaultSubmissionDurationMin = 10

// FileTypeTags splits the comma separated allowed_file_types column.
func (p *Project) FileTypeTags() []string {
	var tags []string
	for _, t := range strings.Split(p.AllowedFileTypes, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (p *Project) SubmissionDuration() time.Duration {
	if p.SubmissionDurationMin <= 0 {
		return DefaultSubmissionDurationMin * time.Minute
	}
	return time.Duration(p.SubmissionDurationMin) * time.Minute
}

func (p *Project) MaxFileSizeBytes() int64 {
	return p.MaxFileSizeMB << 20
}

// IsPastDeadline is true when a deadline is set and now is after it.
func (p *Project) IsPastDeadline(now time.Time) bool {
	return p.Deadline > 0 && now.Unix() > p.Deadline
}

type Section struct {
	ID             int64  `db:"id" json:"section_id"`
	GradeID        int64  `db:"grade_id" json:"grade_id"`
	Name           string `db:"name" json:"name"`
	TelegramChatID *int64 `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	InviteLink     string `db:"invite_link" json:"invite_link"`
}

type Student struct {
	ID               int64   `db:"id" json:"student_id"`
	SectionID        int64   `db:"section_id" json:"section_id"`
	FullName         string  `db:"full_name" json:"full_name"`
	NormalizedName   string  `db:"normalized_name" json:"normalized_name"`
	TelegramUserID   *int64  `db:"telegram_user_id" json:"telegram_user_id,omitempty"`
	TelegramUsername *string `db:"telegram_username" json:"telegram_username,omitempty"`
	JoinedTelegram   bool    `db:"joined_telegram" json:"joined_telegram"`
	JoinedAt         *int64  `db:"joined_at" json:"joined_at,omitempty"`
}

type Submission struct {
	ID          int64  `db:"id" json:"submission_id"`
	ProjectID   int64  `db:"project_id" json:"project_id"`
	StudentID   *int64 `db:"student_id" json:"student_id,omitempty"`
	OTPID       int64  `db:"otp_id" json:"-"`
	FilePath    string `db:"file_path" json:"-"`
	FileName    string `db:"file_name" json:"file_name"`
	FileSize    int64  `db:"file_size" json:"file_size"`
	FileTypeTag string `db:"file_type_tag" json:"file_type_tag"`
	FileHash    string `db:"file_hash" json:"file_hash"`
	SubmittedAt int64  `db:"submitted_at" json:"submitted_at"`
}
