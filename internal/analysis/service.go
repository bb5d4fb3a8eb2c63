package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/async"
	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/recommend"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// DefaultListLimit caps case listings when the caller gives no limit.
const DefaultListLimit = 100

const maxTitleLen = 500

// Upload is a case document submitted by a user of an org.
type Upload struct {
	OrgID       string
	UserID      string
	FileName    string
	ContentType string
	Title       string
	Mode        constants.AnalysisMode
	Data        []byte
}

// Validate checks identity, file type and size.
func (u *Upload) Validate(maxSize int64) error {
	v := common.NewValidator().
		Field("org_id", u.OrgID, common.Required).
		Field("file", u.FileName, common.Required, common.PDFFile).
		Field("content_type", u.ContentType, common.ContentType(constants.PDFContentType, "application/octet-stream")).
		Field("title", u.Title, common.MaxLength(maxTitleLen))
	if err := v.Error(); err != nil {
		return err
	}
	if len(u.Data) == 0 {
		return common.NewAppError("NO_FILE", "No file provided", common.ErrInvalidInput)
	}
	if int64(len(u.Data)) > maxSize {
		return common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("File too large. Max size is %dMB", maxSize/1024/1024), common.ErrTooLarge)
	}
	return nil
}

// DefaultTitle is the file name without its extension.
func DefaultTitle(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Service is the request side of case analysis.
type Service struct {
	cases     repository.CaseRepository
	blobs     blob.Store
	queue     async.Queue
	extractor extract.TextExtractor
	builder   ContextBuilder
	generator llm.Generator
	params    *recommend.Parameters
	logger    *slog.Logger
}

func NewService(
	cases repository.CaseRepository,
	blobs blob.Store,
	queue async.Queue,
	extractor extract.TextExtractor,
	builder ContextBuilder,
	generator llm.Generator,
	params *recommend.Parameters,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cases:     cases,
		blobs:     blobs,
		queue:     queue,
		extractor: extractor,
		builder:   builder,
		generator: generator,
		params:    params,
		logger:    logger,
	}
}

// Submit stores the upload, creates a pending case and queues its analysis.
func (s *Service) Submit(ctx context.Context, u Upload) (*entity.Case, error) {
	if err := u.Validate(constants.MaxCaseFileSize); err != nil {
		return nil, err
	}
	mode := u.Mode
	if mode == "" {
		mode = constants.ModeDefault
	}
	title := strings.TrimSpace(u.Title)
	if title == "" {
		title = DefaultTitle(u.FileName)
	}

	obj, err := s.blobs.Put(ctx, blob.CasePrefix(u.OrgID), u.FileName, u.Data)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	c := &entity.Case{
		OrgID:        u.OrgID,
		UserID:       u.UserID,
		CaseTitle:    title,
		FileName:     filepath.Base(u.FileName),
		FileSize:     obj.Size,
		FileURL:      obj.Key,
		Status:       string(constants.CaseStatusPending),
		AnalysisMode: string(mode),
		CurrentStep:  constants.StepQueued,
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("analysis.submit.ok",
		"case_id", c.ID, "org_id", c.OrgID, "file", c.FileName, "bytes", c.FileSize, "mode", mode)

	if err := s.enqueue(ctx, c, mode); err != nil {
		return nil, err
	}
	return c, nil
}

// Reanalyze resets an existing case and queues a run in mode.
func (s *Service) Reanalyze(ctx context.Context, orgID string, caseID uuid.UUID, mode constants.AnalysisMode) (*entity.Case, error) {
	if mode == "" {
		mode = constants.ModeDefault
	}
	c, err := s.cases.GetForOrg(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	busy := common.NewAppError("CASE_BUSY", "Analysis already in progress", common.ErrInvalidInput)
	if !constants.CaseStatus(c.Status).IsTerminal() {
		return nil, busy
	}
	// the conditional update closes the gap between two concurrent requests
	ok, err := s.cases.MarkRequeued(ctx, c.ID, mode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, busy
	}
	if err := s.enqueue(ctx, c, mode); err != nil {
		return nil, err
	}
	return s.cases.GetForOrg(ctx, orgID, caseID)
}

func (s *Service) enqueue(ctx context.Context, c *entity.Case, mode constants.AnalysisMode) error {
	job := async.Job{
		CaseID:      c.ID,
		OrgID:       c.OrgID,
		Mode:        mode,
		SubmittedAt: time.Now(),
		TraceID:     common.RequestIDFromContext(ctx),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("analysis.enqueue.failed", "case_id", c.ID, "err", err)
		msg := "analysis could not be queued"
		if ferr := s.cases.MarkFailed(context.WithoutCancel(ctx), c.ID, msg); ferr != nil {
			s.logger.Error("analysis.fail.write_failed", "case_id", c.ID, "err", ferr)
		}
		return common.NewAppError("QUEUE_UNAVAILABLE", msg, fmt.Errorf("%w: %w", common.ErrUnavailable, err))
	}
	return nil
}

// Status is the poll view of a case.
func (s *Service) Status(ctx context.Context, orgID string, caseID uuid.UUID) (*entity.CaseStatus, error) {
	c, err := s.cases.GetForOrg(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	st := c.StatusView()
	return &st, nil
}

// Get returns the full case row.
func (s *Service) Get(ctx context.Context, orgID string, caseID uuid.UUID) (*entity.Case, error) {
	return s.cases.GetForOrg(ctx, orgID, caseID)
}

// List returns the org's cases, newest first.
func (s *Service) List(ctx context.Context, orgID string, limit int) ([]*entity.Case, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.cases.ListByOrg(ctx, orgID, limit)
}

// RequeueUnfinished re-enqueues cases left pending or processing by a previous run.
func (s *Service) RequeueUnfinished(ctx context.Context) (int, error) {
	cases, err := s.cases.ListUnfinished(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cases {
		mode := constants.AnalysisMode(c.AnalysisMode)
		if err := s.cases.MarkQueued(ctx, c.ID, mode); err != nil {
			s.logger.Warn("analysis.requeue.failed", "case_id", c.ID, "err", err)
			continue
		}
		if err := s.enqueue(ctx, c, mode); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("analysis.requeue.ok", "cases", n)
	}
	return n, nil
}
