package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/export"
	"github.com/noah-isme/sqlclassroom-api/pkg/jobs"
)

type submissionStore interface {
	Create(ctx context.Context, sub *models.Submission) error
	List(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, int, error)
	ListByTask(ctx context.Context, taskID string) ([]models.Submission, error)
}

var submissionExportHeaders = []string{"submitted_at", "user_id", "is_correct", "error_kind", "execution_time_ms", "query"}

// SubmissionService exposes recorded submissions.
type SubmissionService struct {
	repo    submissionStore
	tasks   taskReader
	metrics evaluationObserver
	logger  *zap.Logger
}

// NewSubmissionService constructs the service.
func NewSubmissionService(repo submissionStore, tasks taskReader, metrics evaluationObserver, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopEvaluationObserver{}
	}
	return &SubmissionService{repo: repo, tasks: tasks, metrics: metrics, logger: logger}
}

// History lists the actor's own submissions, newest first.
func (s *SubmissionService) History(ctx context.Context, query dto.HistoryQuery, actor models.Actor) (*dto.SubmissionList, error) {
	userID := submitterID(actor)
	if userID == "anonymous" {
		return nil, appErrors.ErrUnauthorized
	}
	subs, total, err := s.repo.List(ctx, models.SubmissionFilter{
		TaskID: query.TaskID,
		UserID: userID,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return &dto.SubmissionList{
		Items:      subs,
		Pagination: models.Pagination{Limit: query.Limit, Offset: query.Offset, TotalCount: total},
	}, nil
}

// Export renders every submission of a task as CSV or PDF.
func (s *SubmissionService) Export(ctx context.Context, taskID, format string, actor models.Actor) (*dto.ExportFile, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	subs, err := s.repo.ListByTask(ctx, task.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}

	rows := make([]map[string]string, 0, len(subs))
	for _, sub := range subs {
		errorKind := ""
		if sub.ErrorKind != nil {
			errorKind = *sub.ErrorKind
		}
		rows = append(rows, map[string]string{
			"submitted_at":      sub.SubmittedAt.UTC().Format(time.RFC3339),
			"user_id":           sub.UserID,
			"is_correct":        strconv.FormatBool(sub.IsCorrect),
			"error_kind":        errorKind,
			"execution_time_ms": strconv.FormatInt(sub.ExecutionTimeMS, 10),
			"query":             sub.Query,
		})
	}
	title := task.Title
	if title == "" {
		title = task.ID
	}
	data, err := exporter.Render(export.Dataset{
		Title:   fmt.Sprintf("Submissions: %s", title),
		Headers: submissionExportHeaders,
		Rows:    rows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("task-%s-submissions.%s", task.ID, exporter.Extension()),
		ContentType: exporter.ContentType(),
		Data:        data,
	}, nil
}

// HandleRecordJob persists a submission queued by the evaluation service.
// Errors are returned so the queue can retry.
func (s *SubmissionService) HandleRecordJob(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeRecordSubmission {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	sub, ok := job.Payload.(*models.Submission)
	if !ok || sub == nil {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		s.metrics.RecordSubmissionFailure()
		s.logger.Warn("record submission attempt failed",
			zap.String("task_id", sub.TaskID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return err
	}
	return nil
}
