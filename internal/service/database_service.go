package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/noah-isme/sqlclassroom-api/internal/dto"
	"github.com/noah-isme/sqlclassroom-api/internal/models"
	"github.com/noah-isme/sqlclassroom-api/pkg/cache"
	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
	"github.com/noah-isme/sqlclassroom-api/pkg/storage"
)

type teacherDatabaseStore interface {
	Create(ctx context.Context, dump *models.TeacherDatabase) error
	GetByID(ctx context.Context, id string) (*models.TeacherDatabase, error)
	List(ctx context.Context, filter models.TeacherDatabaseFilter) ([]models.TeacherDatabase, int, error)
	Delete(ctx context.Context, id string) error
	IsReferenced(ctx context.Context, id string) (bool, error)
}

type dumpValidator interface {
	ValidateDump(ctx context.Context, body []byte) error
}

type downloadSigner interface {
	Generate(id, key string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, key string, expiresAt time.Time, err error)
}

// DumpDownload is an open dump body ready to stream.
type DumpDownload struct {
	Body      io.ReadCloser
	Filename  string
	SizeBytes int64
}

// DatabaseServiceConfig holds upload limits and URL settings.
type DatabaseServiceConfig struct {
	MaxUploadBytes int64
	APIPrefix      string
}

// DatabaseService manages teacher dump uploads and their lifecycle.
type DatabaseService struct {
	repo      teacherDatabaseStore
	store     storage.DumpStore
	validator dumpValidator
	signer    downloadSigner
	cache     *CacheService
	logger    *zap.Logger
	cfg       DatabaseServiceConfig
}

// NewDatabaseService constructs the service with defaults.
func NewDatabaseService(repo teacherDatabaseStore, store storage.DumpStore, validator dumpValidator, signer downloadSigner, cache *CacheService, logger *zap.Logger, cfg DatabaseServiceConfig) *DatabaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	return &DatabaseService{
		repo:      repo,
		store:     store,
		validator: validator,
		signer:    signer,
		cache:     cache,
		logger:    logger,
		cfg:       cfg,
	}
}

// Upload validates and stores a new dump owned by the actor.
func (s *DatabaseService) Upload(ctx context.Context, req dto.UploadDatabaseRequest, actor models.Actor) (*dto.TeacherDatabaseResponse, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	if len(bytes.TrimSpace(req.Dump)) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sql_dump is required")
	}
	if int64(len(req.Dump)) > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("sql_dump exceeds %d bytes limit", s.cfg.MaxUploadBytes))
	}
	if s.validator != nil {
		if err := s.validator.ValidateDump(ctx, req.Dump); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(req.Dump)
	dump := &models.TeacherDatabase{
		ID:         uuid.NewString(),
		Name:       name,
		TeacherID:  actor.UserID,
		Checksum:   hex.EncodeToString(sum[:]),
		SizeBytes:  int64(len(req.Dump)),
		UploadedAt: time.Now().UTC(),
	}
	dump.StorageKey = storage.DumpKey(dump.TeacherID, dump.ID)

	if err := s.store.Put(ctx, dump.StorageKey, bytes.NewReader(req.Dump)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store sql dump")
	}
	if err := s.repo.Create(ctx, dump); err != nil {
		if delErr := s.store.Delete(context.Background(), dump.StorageKey); delErr != nil {
			s.logger.Warn("remove orphaned dump", zap.String("key", dump.StorageKey), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create database metadata")
	}
	s.logger.Info("teacher database uploaded",
		zap.String("id", dump.ID),
		zap.String("teacher_id", dump.TeacherID),
		zap.Int64("size_bytes", dump.SizeBytes),
	)
	return s.toResponse(dump, false)
}

// List returns the actor's dumps. Admins see every dump.
func (s *DatabaseService) List(ctx context.Context, query dto.ListQuery, actor models.Actor) (*dto.TeacherDatabaseList, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	filter := models.TeacherDatabaseFilter{Limit: query.Limit, Offset: query.Offset}
	if actor.Role != models.RoleAdmin {
		filter.TeacherID = actor.UserID
	}
	dumps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list databases")
	}
	items := make([]dto.TeacherDatabaseResponse, 0, len(dumps))
	if err := copier.Copy(&items, &dumps); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to map databases")
	}
	return &dto.TeacherDatabaseList{
		Items:      items,
		Pagination: models.Pagination{Limit: query.Limit, Offset: query.Offset, TotalCount: total},
	}, nil
}

// Get returns one dump with a signed download URL.
func (s *DatabaseService) Get(ctx context.Context, id string, actor models.Actor) (*dto.TeacherDatabaseResponse, error) {
	dump, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.toResponse(dump, true)
}

// Download validates token and opens the dump body.
func (s *DatabaseService) Download(ctx context.Context, id, token string, actor models.Actor) (*DumpDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	dump, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	dumpID, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if dumpID != dump.ID || key != dump.StorageKey {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	body, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "sql dump not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open sql dump")
	}
	return &DumpDownload{Body: body, Filename: dumpFilename(dump), SizeBytes: dump.SizeBytes}, nil
}

// Delete removes a dump that no task references.
func (s *DatabaseService) Delete(ctx context.Context, id string, actor models.Actor) error {
	dump, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	referenced, err := s.repo.IsReferenced(ctx, dump.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check database usage")
	}
	if referenced {
		return appErrors.Clone(appErrors.ErrConflict, "database is used by a task")
	}
	if err := s.repo.Delete(ctx, dump.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete database")
	}
	if err := s.store.Delete(ctx, dump.StorageKey); err != nil {
		s.logger.Warn("delete dump body", zap.String("id", dump.ID), zap.String("key", dump.StorageKey), zap.Error(err))
	}
	_ = s.cache.Invalidate(ctx, cache.Key("schema", "*", dump.ID, "*"))
	return nil
}

// owned loads a dump the actor may manage: its owner or any admin.
func (s *DatabaseService) owned(ctx context.Context, id string, actor models.Actor) (*models.TeacherDatabase, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	dump, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "database not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load database")
	}
	if actor.Role != models.RoleAdmin && dump.TeacherID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "database belongs to another teacher")
	}
	return dump, nil
}

func (s *DatabaseService) toResponse(dump *models.TeacherDatabase, withURL bool) (*dto.TeacherDatabaseResponse, error) {
	var resp dto.TeacherDatabaseResponse
	if err := copier.Copy(&resp, dump); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to map database")
	}
	if !withURL || s.signer == nil {
		return &resp, nil
	}
	token, expiresAt, err := s.signer.Generate(dump.ID, dump.StorageKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	resp.DownloadURL = fmt.Sprintf("%s/teacher-databases/%s/download?token=%s", base, dump.ID, token)
	resp.ExpiresAt = &expiresAt
	return &resp, nil
}

func requireStaff(actor models.Actor) error {
	if actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if !actor.IsStaff() {
		return appErrors.ErrForbidden
	}
	return nil
}

func dumpFilename(dump *models.TeacherDatabase) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, dump.Name)
	if name == "" {
		name = dump.ID
	}
	return name + ".sql"
}
