package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/pkg/cache"
	"github.com/noah-isme/sqlclassroom-api/pkg/diff"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/jobs"
	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
	"github.com/noah-isme/sqlclassroom-api/pkg/storage"
)

// Evaluation pipeline stages, reported with failures and stage metrics.
const (
	StageLoadOriginal    = "load_original"
	StageExecuteStudent  = "execute_student"
	StageSnapshotStudent = "snapshot_student"
	StageLoadEtalon      = "load_etalon"
	StageExecuteEtalon   = "execute_etalon"
	StageSnapshotEtalon  = "snapshot_etalon"
	StageDiff            = "diff"
)

// JobTypeRecordSubmission is the queue job type carrying a *models.Submission.
const JobTypeRecordSubmission = "record_submission"

type taskReader interface {
	GetByID(ctx context.Context, id string) (*models.Task, error)
}

type dumpMetadataReader interface {
	GetByID(ctx context.Context, id string) (*models.TeacherDatabase, error)
}

type submissionWriter interface {
	Create(ctx context.Context, sub *models.Submission) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// sandboxRunner is satisfied by *sandbox.Manager.
type sandboxRunner interface {
	Dialect() sandbox.Dialect
	Load(ctx context.Context, dump []byte) (*sandbox.Instance, error)
	Execute(ctx context.Context, inst *sandbox.Instance, script string, eo sandbox.ExecOptions) (*sandbox.ExecutionResult, error)
	Snapshot(ctx context.Context, inst *sandbox.Instance) (*sandbox.Snapshot, error)
	Schema(ctx context.Context, inst *sandbox.Instance) (*sandbox.Snapshot, error)
}

type evaluationObserver interface {
	ObserveEvaluationStage(stage string, duration time.Duration)
	RecordEvaluation(operation, outcome string)
	RecordSubmissionFailure()
}

type nopEvaluationObserver struct{}

func (nopEvaluationObserver) ObserveEvaluationStage(string, time.Duration) {}
func (nopEvaluationObserver) RecordEvaluation(string, string)              {}
func (nopEvaluationObserver) RecordSubmissionFailure()                     {}

// EvaluationConfig tunes the orchestrator.
type EvaluationConfig struct {
	SessionTTL     time.Duration
	EtalonCacheTTL time.Duration
	MaxDumpBytes   int64
}

// EvaluationDeps groups the collaborators of EvaluationService.
type EvaluationDeps struct {
	Tasks       taskReader
	Dumps       dumpMetadataReader
	Store       storage.DumpStore
	Sandbox     sandboxRunner
	Cache       *CacheService
	Recorder    jobDispatcher
	Submissions submissionWriter
	Metrics     evaluationObserver
}

// EvaluationService runs student scripts and grades submissions against the
// reference outcome of a task.
type EvaluationService struct {
	tasks       taskReader
	dumps       dumpMetadataReader
	store       storage.DumpStore
	sandbox     sandboxRunner
	cache       *CacheService
	recorder    jobDispatcher
	submissions submissionWriter
	metrics     evaluationObserver
	logger      *zap.Logger
	cfg         EvaluationConfig
}

// NewEvaluationService constructs the orchestrator.
func NewEvaluationService(deps EvaluationDeps, cfg EvaluationConfig, logger *zap.Logger) *EvaluationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopEvaluationObserver{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.EtalonCacheTTL <= 0 {
		cfg.EtalonCacheTTL = time.Hour
	}
	return &EvaluationService{
		tasks:       deps.Tasks,
		dumps:       deps.Dumps,
		store:       deps.Store,
		sandbox:     deps.Sandbox,
		cache:       deps.Cache,
		recorder:    deps.Recorder,
		submissions: deps.Submissions,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// GetTask returns the task definition.
func (s *EvaluationService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.task(ctx, taskID)
}

// Preview runs sql against a fresh copy of the task's original database and
// returns the last result set. The script is remembered for the actor's
// session so a later empty submit can reuse it.
func (s *EvaluationService) Preview(ctx context.Context, taskID, sqlText string, actor models.Actor) (*sandbox.ExecutionResult, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sql is required")
	}
	task, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	_, body, err := s.dumpBody(ctx, task.OriginalDBID)
	if err != nil {
		return nil, s.fail("preview", task.ID, atStage(StageLoadOriginal, err))
	}
	_, res, err := s.pipeline(ctx, studentStages, body, sqlText, sandbox.ExecOptions{Restrictions: task.Restrictions}, false)
	if err != nil {
		return nil, s.fail("preview", task.ID, err)
	}
	s.remember(ctx, actor, task.ID, sqlText)
	s.metrics.RecordEvaluation("preview", "ok")
	return res, nil
}

// ExecuteSQL runs query against a fresh copy of a teacher database.
func (s *EvaluationService) ExecuteSQL(ctx context.Context, databaseID, query string) (*sandbox.ExecutionResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "query is required")
	}
	_, body, err := s.dumpBody(ctx, databaseID)
	if err != nil {
		return nil, s.fail("execute", databaseID, atStage(StageLoadOriginal, err))
	}
	_, res, err := s.pipeline(ctx, studentStages, body, query, sandbox.ExecOptions{}, false)
	if err != nil {
		return nil, s.fail("execute", databaseID, err)
	}
	s.metrics.RecordEvaluation("execute", "ok")
	return res, nil
}

// Submit grades sql against the task's reference outcome. An empty sql
// submits the script last previewed in the actor's session. The student and
// reference pipelines run concurrently on separate instances.
func (s *EvaluationService) Submit(ctx context.Context, taskID, sqlText string, actor models.Actor) (*dto.SubmitResponse, error) {
	task, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	script := sqlText
	if strings.TrimSpace(script) == "" {
		if script, err = s.recall(ctx, actor, task.ID); err != nil {
			return nil, err
		}
	}

	original, body, err := s.dumpBody(ctx, task.OriginalDBID)
	if err != nil {
		return nil, s.fail("submit", task.ID, atStage(StageLoadOriginal, err))
	}

	var (
		studentSnap *sandbox.Snapshot
		studentRes  *sandbox.ExecutionResult
		etalonSnap  *sandbox.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		studentSnap, studentRes, err = s.pipeline(gctx, studentStages, body, script, sandbox.ExecOptions{Restrictions: task.Restrictions}, true)
		return err
	})
	g.Go(func() error {
		var err error
		etalonSnap, err = s.etalonSnapshot(gctx, task, original, body)
		return err
	})
	if err := g.Wait(); err != nil {
		appErr := s.fail("submit", task.ID, err)
		if isStudentFailure(err) {
			s.record(newFailedSubmission(task.ID, actor, script, err))
		}
		return nil, appErr
	}

	start := time.Now()
	report, err := diff.Compare(studentSnap, etalonSnap, diffOptions(task)...)
	s.metrics.ObserveEvaluationStage(StageDiff, time.Since(start))
	if err != nil {
		return nil, s.fail("submit", task.ID, atStage(StageDiff, err))
	}

	correct := report.Correct()
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	s.metrics.RecordEvaluation("submit", outcome)

	details, err := json.Marshal(report)
	if err != nil {
		s.logger.Warn("encode diff report", zap.String("task_id", task.ID), zap.Error(err))
		details = []byte("{}")
	}
	s.record(&models.Submission{
		TaskID:          task.ID,
		UserID:          submitterID(actor),
		Query:           script,
		IsCorrect:       correct,
		Details:         details,
		ExecutionTimeMS: studentRes.Duration.Milliseconds(),
	})
	return &dto.SubmitResponse{Correct: correct, Details: report}, nil
}

// TaskSchema returns the schema of the task's original database.
func (s *EvaluationService) TaskSchema(ctx context.Context, taskID string) (*sandbox.Snapshot, error) {
	task, err := s.task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.DatabaseSchema(ctx, task.OriginalDBID)
}

// DatabaseSchema returns the tables and columns of a teacher database. The
// result is cached per dump checksum.
func (s *EvaluationService) DatabaseSchema(ctx context.Context, databaseID string) (*sandbox.Snapshot, error) {
	meta, err := s.dumps.GetByID(ctx, databaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "database not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load database")
	}

	key := cache.Key("schema", string(s.sandbox.Dialect()), meta.ID, meta.Checksum)
	if raw, hit, _ := s.cache.GetBytes(ctx, key); hit {
		if snap, err := sandbox.DecodeSnapshot(raw); err == nil {
			return snap, nil
		}
	}

	body, err := s.readDump(ctx, meta)
	if err != nil {
		return nil, s.fail("schema", databaseID, atStage(StageLoadOriginal, err))
	}
	snap, _, err := s.pipeline(ctx, pipelineStages{load: StageLoadOriginal, snapshot: StageSnapshotStudent}, body, "", sandbox.ExecOptions{}, false)
	if err != nil {
		return nil, s.fail("schema", databaseID, err)
	}
	if raw, err := sandbox.EncodeSnapshot(snap); err == nil {
		_ = s.cache.SetBytes(ctx, key, raw, s.cfg.EtalonCacheTTL)
	}
	return snap, nil
}

// ValidateDump checks that body loads into a fresh instance.
func (s *EvaluationService) ValidateDump(ctx context.Context, body []byte) error {
	inst, err := s.sandbox.Load(ctx, body)
	if err != nil {
		var se *sandbox.Error
		if errors.As(err, &se) && se.Kind == sandbox.ErrorKindDumpLoad && !sandbox.IsAllocation(err) {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, se.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate dump")
	}
	return inst.Close()
}

// InvalidateTask drops cached reference snapshots of a task.
func (s *EvaluationService) InvalidateTask(ctx context.Context, taskID string) error {
	return s.cache.Invalidate(ctx, cache.Key("etalon", taskID, "*"))
}

type pipelineStages struct {
	load     string
	execute  string
	snapshot string
}

var (
	studentStages = pipelineStages{load: StageLoadOriginal, execute: StageExecuteStudent, snapshot: StageSnapshotStudent}
	etalonStages  = pipelineStages{load: StageLoadEtalon, execute: StageExecuteEtalon, snapshot: StageSnapshotEtalon}
)

// pipeline loads body into a fresh instance, runs script when non-empty and
// optionally captures a snapshot. The instance is always torn down.
func (s *EvaluationService) pipeline(ctx context.Context, stages pipelineStages, body []byte, script string, eo sandbox.ExecOptions, withRows bool) (*sandbox.Snapshot, *sandbox.ExecutionResult, error) {
	start := time.Now()
	inst, err := s.sandbox.Load(ctx, body)
	s.metrics.ObserveEvaluationStage(stages.load, time.Since(start))
	if err != nil {
		return nil, nil, atStage(stages.load, err)
	}
	defer inst.Close() //nolint:errcheck

	res := &sandbox.ExecutionResult{Rows: []sandbox.Row{}, Columns: []string{}}
	if script != "" {
		start = time.Now()
		res, err = s.sandbox.Execute(ctx, inst, script, eo)
		s.metrics.ObserveEvaluationStage(stages.execute, time.Since(start))
		if err != nil {
			return nil, nil, atStage(stages.execute, err)
		}
	}
	if stages.snapshot == "" || (!withRows && script != "") {
		return nil, res, nil
	}

	start = time.Now()
	var snap *sandbox.Snapshot
	if withRows {
		snap, err = s.sandbox.Snapshot(ctx, inst)
	} else {
		snap, err = s.sandbox.Schema(ctx, inst)
	}
	s.metrics.ObserveEvaluationStage(stages.snapshot, time.Since(start))
	if err != nil {
		return nil, nil, atStage(stages.snapshot, err)
	}
	return snap, res, nil
}

// etalonSnapshot returns the reference outcome of task, from cache when the
// inputs are unchanged.
func (s *EvaluationService) etalonSnapshot(ctx context.Context, task *models.Task, original *models.TeacherDatabase, originalBody []byte) (*sandbox.Snapshot, error) {
	var (
		etalonDump *models.TeacherDatabase
		etalonBody []byte
		err        error
	)
	switch {
	case task.HasEtalonDump():
		etalonDump, etalonBody, err = s.dumpBody(ctx, *task.EtalonDBID)
		if err != nil {
			return nil, atStage(StageLoadEtalon, err)
		}
	case !task.HasEtalonScript():
		return nil, atStage(StageLoadEtalon, errors.New("task has no reference solution"))
	}

	key := s.etalonKey(task, original, etalonDump)
	if raw, hit, _ := s.cache.GetBytes(ctx, key); hit {
		snap, err := sandbox.DecodeSnapshot(raw)
		if err == nil {
			return snap, nil
		}
		s.logger.Warn("discarding undecodable etalon snapshot", zap.String("key", key), zap.Error(err))
	}

	var snap *sandbox.Snapshot
	if etalonDump != nil {
		snap, _, err = s.pipeline(ctx, pipelineStages{load: StageLoadEtalon, snapshot: StageSnapshotEtalon}, etalonBody, "", sandbox.ExecOptions{Trusted: true}, true)
	} else {
		snap, _, err = s.pipeline(ctx, etalonStages, originalBody, *task.EtalonScript, sandbox.ExecOptions{Trusted: true}, true)
	}
	if err != nil {
		return nil, err
	}

	if raw, err := sandbox.EncodeSnapshot(snap); err == nil {
		_ = s.cache.SetBytes(ctx, key, raw, s.cfg.EtalonCacheTTL)
	}
	return snap, nil
}

// etalonKey identifies a reference snapshot by everything it depends on.
func (s *EvaluationService) etalonKey(task *models.Task, original, etalon *models.TeacherDatabase) string {
	h := sha256.New()
	h.Write([]byte(s.sandbox.Dialect()))
	h.Write([]byte{0})
	h.Write([]byte(original.Checksum))
	h.Write([]byte{0})
	if etalon != nil {
		h.Write([]byte(etalon.Checksum))
	} else if task.EtalonScript != nil {
		h.Write([]byte(*task.EtalonScript))
	}
	return cache.Key("etalon", task.ID, hex.EncodeToString(h.Sum(nil))[:32])
}

func (s *EvaluationService) task(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	return task, nil
}

func (s *EvaluationService) dumpBody(ctx context.Context, databaseID string) (*models.TeacherDatabase, []byte, error) {
	meta, err := s.dumps.GetByID(ctx, databaseID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.readDump(ctx, meta)
	if err != nil {
		return nil, nil, err
	}
	return meta, body, nil
}

func (s *EvaluationService) readDump(ctx context.Context, meta *models.TeacherDatabase) ([]byte, error) {
	return storage.ReadAll(ctx, s.store, meta.StorageKey, s.cfg.MaxDumpBytes)
}

type previewSession struct {
	SQL     string    `json:"sql"`
	SavedAt time.Time `json:"saved_at"`
}

func previewKey(actor models.Actor, taskID string) string {
	return cache.Key("preview", actor.SessionKey(), taskID)
}

func (s *EvaluationService) remember(ctx context.Context, actor models.Actor, taskID, script string) {
	if actor.SessionKey() == "" {
		return
	}
	_ = s.cache.Set(ctx, previewKey(actor, taskID), previewSession{SQL: script, SavedAt: time.Now().UTC()}, s.cfg.SessionTTL)
}

func (s *EvaluationService) recall(ctx context.Context, actor models.Actor, taskID string) (string, error) {
	if actor.SessionKey() == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "sql is required")
	}
	var session previewSession
	hit, err := s.cache.Get(ctx, previewKey(actor, taskID), &session)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preview session")
	}
	if !hit || strings.TrimSpace(session.SQL) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "no previewed query to submit")
	}
	return session.SQL, nil
}

// record persists a submission through the queue, writing inline when the
// queue cannot take it.
func (s *EvaluationService) record(sub *models.Submission) {
	if s.recorder != nil {
		err := s.recorder.Enqueue(jobs.Job{Type: JobTypeRecordSubmission, Payload: sub})
		if err == nil {
			return
		}
		if !errors.Is(err, jobs.ErrQueueFull) && !errors.Is(err, jobs.ErrQueueClosed) {
			s.logger.Warn("enqueue submission", zap.String("task_id", sub.TaskID), zap.Error(err))
		}
	}
	if s.submissions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.submissions.Create(ctx, sub); err != nil {
		s.metrics.RecordSubmissionFailure()
		s.logger.Error("record submission", zap.String("task_id", sub.TaskID), zap.Error(err))
	}
}

// stageError tags a pipeline failure with the stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

// isStudentFailure reports whether err is the student's own script failing,
// as opposed to infrastructure or the reference pipeline.
func isStudentFailure(err error) bool {
	if stageOf(err) != StageExecuteStudent {
		return false
	}
	var sbErr *sandbox.Error
	return errors.As(err, &sbErr) && sbErr.StudentFacing()
}

var sandboxErrorCodes = map[sandbox.ErrorKind]*appErrors.Error{
	sandbox.ErrorKindSyntax:    appErrors.ErrSQLSyntax,
	sandbox.ErrorKindRuntime:   appErrors.ErrSQLRuntime,
	sandbox.ErrorKindForbidden: appErrors.ErrSQLForbidden,
	sandbox.ErrorKindTimeout:   appErrors.ErrSQLTimeout,
}

// fail converts a pipeline failure into the HTTP facing error. Only failures
// of the student's own script keep their message; everything else is logged
// and reported as a generic internal error.
func (s *EvaluationService) fail(operation, subject string, err error) error {
	stage := stageOf(err)
	if isStudentFailure(err) {
		var sbErr *sandbox.Error
		errors.As(err, &sbErr)
		s.metrics.RecordEvaluation(operation, string(sbErr.Kind))
		base := sandboxErrorCodes[sbErr.Kind]
		appErr := appErrors.Wrap(err, base.Code, base.Status, sbErr.Error())
		appErr = appErrors.WithDetail(appErr, "stage", stage)
		appErr = appErrors.WithDetail(appErr, "kind", string(sbErr.Kind))
		if sbErr.Statement >= 0 {
			appErr = appErrors.WithDetail(appErr, "statement_index", sbErr.Statement)
		}
		return appErr
	}

	s.metrics.RecordEvaluation(operation, "error")
	kind := "internal"
	if k, ok := sandbox.KindOf(err); ok {
		kind = string(k)
	} else if errors.As(err, new(*diff.Error)) {
		kind = "diff_error"
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Info("evaluation abandoned", zap.String("operation", operation), zap.String("subject", subject), zap.String("stage", stage))
	} else {
		s.logger.Error("evaluation failed",
			zap.String("operation", operation),
			zap.String("subject", subject),
			zap.String("stage", stage),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	appErr := appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	if stage != "" {
		appErr = appErrors.WithDetail(appErr, "stage", stage)
	}
	return appErr
}

func newFailedSubmission(taskID string, actor models.Actor, script string, err error) *models.Submission {
	var sbErr *sandbox.Error
	errors.As(err, &sbErr)
	kind := string(sbErr.Kind)
	msg := sbErr.Error()
	details, _ := json.Marshal(map[string]interface{}{
		"stage":           stageOf(err),
		"statement_index": sbErr.Statement,
	})
	return &models.Submission{
		TaskID:       taskID,
		UserID:       submitterID(actor),
		Query:        script,
		Details:      details,
		ErrorKind:    &kind,
		ErrorMessage: &msg,
	}
}

func submitterID(actor models.Actor) string {
	if actor.UserID != "" {
		return actor.UserID
	}
	if key := actor.SessionKey(); key != "" {
		return key
	}
	return "anonymous"
}

func diffOptions(task *models.Task) []diff.Option {
	var opts []diff.Option
	if task.IgnoreRowOrder {
		opts = append(opts, diff.WithIgnoreRowOrder())
	}
	if task.StrictSchema {
		opts = append(opts, diff.WithStrictSchema())
	}
	return opts
}
