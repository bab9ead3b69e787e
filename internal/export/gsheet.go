package export

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/taslim/internal/app"
	"github.com/shrimpsizemoose/taslim/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

var header = []interface{}{
	"submission_id", "project", "student", "file_name", "file_size", "file_type", "file_hash", "submitted_at",
}

type Store interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetStudent(ctx context.Context, id int64) (*models.Student, error)
	ListSubmissions(ctx context.Context, projectID int64) ([]models.Submission, error)
}

// SheetWriter replaces everything in a range with rows.
type SheetWriter interface {
	Overwrite(ctx context.Context, sheetID, sheetName string, rows [][]interface{}) error
}

type sheetsWriter struct {
	svc *sheets.Service
}

func NewSheetsWriter(ctx context.Context, credentialsPath string) (SheetWriter, error) {
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &sheetsWriter{svc: svc}, nil
}

func (w *sheetsWriter) Overwrite(ctx context.Context, sheetID, sheetName string, rows [][]interface{}) error {
	_, err := w.svc.Spreadsheets.Values.Clear(sheetID, sheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", sheetName, err)
	}
	_, err = w.svc.Spreadsheets.Values.Update(sheetID, sheetName+"!A1", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", sheetName, err)
	}
	return nil
}

type job struct {
	cfg    app.GSheetConfig
	writer SheetWriter
}

type GSheetExporter struct {
	store     Store
	jobs      []job
	scheduler *gocron.Scheduler
}

// NewGSheetExporter opens one Sheets client per configured sheet.
func NewGSheetExporter(ctx context.Context, configs []app.GSheetConfig, store Store) (*GSheetExporter, error) {
	e := &GSheetExporter{store: store}
	for _, cfg := range configs {
		writer, err := NewSheetsWriter(ctx, cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		e.Add(cfg, writer)
	}
	return e, nil
}

func (e *GSheetExporter) Add(cfg app.GSheetConfig, writer SheetWriter) {
	e.jobs = append(e.jobs, job{cfg: cfg, writer: writer})
}

func (e *GSheetExporter) Start(ctx context.Context) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	for _, j := range e.jobs {
		j := j
		_, err := scheduler.Cron(j.cfg.Schedule).Do(func() {
			if err := e.Export(ctx, j.cfg, j.writer); err != nil {
				logger.Error.Printf("Export to sheet %s failed: %v", j.cfg.SheetID, err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule export for sheet %s: %w", j.cfg.SheetID, err)
		}
	}

	scheduler.StartAsync()
	e.scheduler = scheduler
	return nil
}

func (e *GSheetExporter) Stop() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
}

// ExportAll runs every configured export once.
func (e *GSheetExporter) ExportAll(ctx context.Context) error {
	for _, j := range e.jobs {
		if err := e.Export(ctx, j.cfg, j.writer); err != nil {
			return err
		}
	}
	return nil
}

func (e *GSheetExporter) Export(ctx context.Context, cfg app.GSheetConfig, writer SheetWriter) error {
	rows, err := BuildRows(ctx, e.store, cfg.ProjectIDs)
	if err != nil {
		return err
	}
	if err := writer.Overwrite(ctx, cfg.SheetID, cfg.SheetName, rows); err != nil {
		return err
	}
	logger.Info.Printf("Exported %d submissions to sheet %s/%s", len(rows)-1, cfg.SheetID, cfg.SheetName)
	return nil
}

// BuildRows renders the header followed by one row per submission of each
// project, in project order then submission time.
func BuildRows(ctx context.Context, store Store, projectIDs []int64) ([][]interface{}, error) {
	rows := [][]interface{}{header}
	names := make(map[int64]string)

	for _, projectID := range projectIDs {
		project, err := store.GetProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("project %d: %w", projectID, err)
		}
		subs, err := store.ListSubmissions(ctx, projectID)
		if err != nil {
			return nil, err
		}

		for _, sub := range subs {
			student := ""
			if sub.StudentID != nil {
				name, ok := names[*sub.StudentID]
				if !ok {
					if st, err := store.GetStudent(ctx, *sub.StudentID); err == nil {
						name = st.FullName
					} else {
						logger.Debug.Printf("No roster entry %d for submission %d: %v", *sub.StudentID, sub.ID, err)
					}
					names[*sub.StudentID] = name
				}
				student = name
			}

			rows = append(rows, []interface{}{
				sub.ID,
				project.Title,
				student,
				sub.FileName,
				sub.FileSize,
				sub.FileTypeTag,
				sub.FileHash,
				time.Unix(sub.SubmittedAt, 0).UTC().Format(timeLayout),
			})
		}
	}
	return rows, nil
}
