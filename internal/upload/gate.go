package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/taslim/internal/metrics"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/store"
)

// Store is the part of the database the gate touches.
type Store interface {
	GetOTPBySubmitToken(ctx context.Context, token string) (*models.OTP, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ConsumeForSubmission(ctx context.Context, token string, client models.ClientInfo, persist store.PersistFunc) (*models.OTP, *models.Submission, error)
}

type File struct {
	Name string
	Body io.ReadSeeker
}

type Request struct {
	ProjectID   int64
	SubmitToken string
	File        File
	Client      models.ClientInfo
}

type Gate struct {
	store Store
	blobs BlobStore
	now   func() time.Time
}

func NewGate(s Store, blobs BlobStore) *Gate {
	return &Gate{store: s, blobs: blobs, now: time.Now}
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Accept checks the token, the project policy and the file, stores the blob
// and then consumes the token. Nothing is kept unless every check
// passes, and a retried request gets otp_already_used instead of a duplicate.
func (g *Gate) Accept(ctx context.Context, req Request) (*models.Submission, error) {
	sub, err := g.accept(ctx, req)
	if err != nil {
		result := "error"
		if e, ok := models.AsError(err); ok {
			result = string(e.Code)
		}
		metrics.SubmissionsTotal.WithLabelValues(result).Inc()
		logger.Info.Printf("Submission rejected project=%d: %v", req.ProjectID, err)
		return nil, err
	}
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	metrics.SubmissionSizeBytes.Observe(float64(sub.FileSize))
	logger.Info.Printf("Submission %d accepted project=%d size=%d", sub.ID, sub.ProjectID, sub.FileSize)
	return sub, nil
}

func (g *Gate) accept(ctx context.Context, req Request) (*models.Submission, error) {
	otp, err := g.store.GetOTPBySubmitToken(ctx, req.SubmitToken)
	if err != nil {
		return nil, err
	}
	now := g.now()
	switch {
	case otp.Status == models.OTPStatusUsed:
		return nil, models.ErrOTPAlreadyUsed
	case otp.Status != models.OTPStatusVerified, otp.SubmitTokenTTL(now) <= 0:
		return nil, models.ErrTokenInvalid
	case otp.ProjectID != req.ProjectID:
		return nil, models.NewError(models.CodeTokenInvalid, "token belongs to another project")
	}

	project, err := g.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.IsActive {
		return nil, models.ErrProjectNotFound
	}
	if project.IsPastDeadline(now) && !project.AllowLateSubmission {
		return nil, models.ErrDeadlineExpired
	}

	size, hash, err := measure(req.File.Body, project.MaxFileSizeBytes())
	if err != nil {
		return nil, err
	}
	if size > project.MaxFileSizeBytes() {
		return nil, models.NewError(models.CodeFileTooLarge, fmt.Sprintf("limit is %d MB", project.MaxFileSizeMB)).
			WithDetail("max_file_size_mb", project.MaxFileSizeMB)
	}

	if err := CheckFileName(req.File.Name); err != nil {
		return nil, err
	}
	ext, tag, ok := MatchFileType(req.File.Name, project.FileTypeTags())
	if !ok {
		return nil, models.NewError(models.CodeFileTypeForbidden, fmt.Sprintf("extension %q not allowed", ext)).
			WithDetail("allowed_file_types", project.FileTypeTags())
	}

	// The blob goes in before the transaction so no row lock or pool
	// connection is held across storage I/O. A failed consume removes it.
	key := fmt.Sprintf("projects/%d/%s%s", project.ID, uuid.NewString(), ext)
	if _, err := req.File.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	if err := g.blobs.Put(ctx, key, req.File.Body, size); err != nil {
		return nil, err
	}

	persist := func(*models.OTP) (*models.Submission, error) {
		return &models.Submission{
			FilePath:    key,
			FileName:    req.File.Name,
			FileSize:    size,
			FileTypeTag: tag,
			FileHash:    hash,
		}, nil
	}

	_, sub, err := g.store.ConsumeForSubmission(ctx, req.SubmitToken, req.Client, persist)
	if err != nil {
		if delErr := g.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.Error.Printf("failed to remove orphan blob %s: %v", key, delErr)
		}
		return nil, err
	}
	if sub == nil {
		return nil, errors.New("consume returned no submission")
	}
	return sub, nil
}

// measure reads at most limit+1 bytes, which is enough to tell an oversized
// file apart without hashing all of it.
func measure(r io.Reader, limit int64) (int64, string, error) {
	h := sha256.New()
	n, err := io.Copy(h, io.LimitReader(r, limit+1))
	if err != nil {
		return 0, "", fmt.Errorf("failed to read upload: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
