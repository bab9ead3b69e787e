package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type OTPInitRequest struct {
	ProjectID   int64  `json:"project_id" validate:"required,gt=0"`
	StudentName string `json:"student_name" validate:"required,max=200"`
	Payload     string `json:"payload" validate:"required,max=2048"`
}

func (r *OTPInitRequest) Validate() error {
	return validate.Struct(r)
}

type OTPInitResponse struct {
	OTPID              int64  `json:"otp_id"`
	BotDeeplink        string `json:"bot_deeplink"`
	ExpiresIn          int    `json:"expires_in"`
	ProjectTitle       string `json:"project_title"`
	SectionName        string `json:"section_name"`
	Instructions       string `json:"instructions"`
	Requirements       string `json:"requirements"`
	SubmissionDuration int    `json:"submission_duration"`
	AlreadyActive      bool   `json:"already_active,omitempty"`
	// Code and Message are set only when an existing OTP is returned.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type OTPVerifyRequest struct {
	OTPID int64  `json:"otp_id" validate:"required,gt=0"`
	Code  string `json:"code" validate:"required,len=6,number"`
}

func (r *OTPVerifyRequest) Validate() error {
	return validate.Struct(r)
}

type OTPVerifyResponse struct {
	OK          bool   `json:"ok"`
	SubmitToken string `json:"submit_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type CheckTokenResponse struct {
	Valid        bool   `json:"valid"`
	ExpiresIn    *int   `json:"expires_in,omitempty"`
	StudentName  string `json:"student_name,omitempty"`
	ProjectTitle string `json:"project_title,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SubmitResponse struct {
	SubmissionID int64  `json:"submission_id"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	SubmittedAt  int64  `json:"submitted_at"`
}

type VerifyStudentRequest struct {
	ProjectID       int64  `json:"project_id" validate:"required,gt=0"`
	StudentName     string `json:"student_name" validate:"required,max=200"`
	CheckMembership bool   `json:"check_membership"`
}

func (r *VerifyStudentRequest) Validate() error {
	return validate.Struct(r)
}

type VerifyStudentResponse struct {
	Found            bool    `json:"found"`
	StudentID        int64   `json:"student_id,omitempty"`
	FullName         string  `json:"full_name,omitempty"`
	Similarity       float64 `json:"similarity,omitempty"`
	JoinedTelegram   bool    `json:"joined_telegram"`
	MembershipStatus string  `json:"membership_status,omitempty"`
	InviteLink       string  `json:"invite_link,omitempty"`
}

// ErrorResponse is the stable error payload of every endpoint.
type ErrorResponse struct {
	Error        string                 `json:"error"`
	Message      string                 `json:"message"`
	AttemptsLeft *int                   `json:"attempts_left,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}
