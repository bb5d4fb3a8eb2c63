package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
)

var caseColumns = []string{
	"id", "org_id", "user_id", "case_title", "file_name", "file_size", "file_url",
	"status", "analysis_mode", "analysis_progress", "current_step",
	"default_recommendations", "parameterized_recommendations", "error_message",
	"created_at", "updated_at", "analyzed_at", "parameterized_analyzed_at",
}

type CaseRepository interface {
	Create(ctx context.Context, c *entity.Case) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Case, error)
	GetForOrg(ctx context.Context, orgID string, id uuid.UUID) (*entity.Case, error)
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*entity.Case, error)
	MarkQueued(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode) error
	MarkRequeued(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string) error
	SaveRecommendations(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode, report json.RawMessage) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	ListUnfinished(ctx context.Context, updatedBefore time.Time) ([]*entity.Case, error)
}

type caseRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewCaseRepository(db *DB, logger *slog.Logger) CaseRepository {
	return &caseRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *caseRepository) Create(ctx context.Context, c *entity.Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = string(constants.CaseStatusPending)
	}
	if c.AnalysisMode == "" {
		c.AnalysisMode = string(constants.ModeDefault)
	}

	b := r.db.Builder()
	q, args := b.Insert(CasesTable.Name).
		Columns(caseColumns...).
		Values(
			c.ID, c.OrgID, c.UserID, c.CaseTitle, c.FileName, c.FileSize, c.FileURL,
			c.Status, c.AnalysisMode, c.AnalysisProgress, c.CurrentStep,
			jsonArg(c.DefaultRecommendations), jsonArg(c.ParameterizedRecommendations), strArg(c.ErrorMessage),
			c.CreatedAt, c.UpdatedAt, timeArg(c.AnalyzedAt), timeArg(c.ParameterizedAnalyzedAt),
		).Query()
	if err := r.db.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create case", "org_id", c.OrgID, "error", err)
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *caseRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Case, error) {
	return r.getOne(ctx, entsql.EQ("id", id))
}

// GetForOrg hides cases of other orgs behind ErrNotFound.
func (r *caseRepository) GetForOrg(ctx context.Context, orgID string, id uuid.UUID) (*entity.Case, error) {
	return r.getOne(ctx, entsql.And(entsql.EQ("id", id), entsql.EQ("org_id", orgID)))
}

func (r *caseRepository) getOne(ctx context.Context, p *entsql.Predicate) (*entity.Case, error) {
	b := r.db.Builder()
	q, args := b.Select(caseColumns...).From(b.Table(CasesTable.Name)).Where(p).Limit(1).Query()
	cases, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, common.NewAppError("CASE_NOT_FOUND", "Case not found", common.ErrNotFound)
	}
	return cases[0], nil
}

func (r *caseRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*entity.Case, error) {
	b := r.db.Builder()
	sel := b.Select(caseColumns...).From(b.Table(CasesTable.Name)).
		Where(entsql.EQ("org_id", orgID)).
		OrderBy(entsql.Desc("created_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	cases, err := r.query(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to list cases", "org_id", orgID, "error", err)
		return nil, err
	}
	return cases, nil
}

// MarkQueued resets a case for a fresh analysis run in the given mode.
func (r *caseRepository) MarkQueued(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode) error {
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set("status", string(constants.CaseStatusPending)).
		Set("analysis_mode", string(mode)).
		Set("analysis_progress", 0).
		Set("current_step", constants.StepQueued).
		SetNull("error_message").
		Set("updated_at", r.now()).
		Where(entsql.EQ("id", id)).
		Query()
	return r.exec(ctx, "mark queued", id, q, args)
}

// MarkRequeued queues a finished case again. It reports false, and changes
// nothing, while the case is still pending or processing.
func (r *caseRepository) MarkRequeued(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode) (bool, error) {
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set("status", string(constants.CaseStatusPending)).
		Set("analysis_mode", string(mode)).
		Set("analysis_progress", 0).
		Set("current_step", constants.StepQueued).
		SetNull("error_message").
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", string(constants.CaseStatusAnalyzed), string(constants.CaseStatusError)),
		)).
		Query()
	var res sql.Result
	if err := r.db.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("case update failed", "op", "mark requeued", "case_id", id, "error", err)
		return false, fmt.Errorf("mark requeued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark requeued: %w", err)
	}
	return n > 0, nil
}

func (r *caseRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set("status", string(constants.CaseStatusProcessing)).
		SetNull("error_message").
		Set("updated_at", r.now()).
		Where(entsql.EQ("id", id)).
		Query()
	return r.exec(ctx, "mark processing", id, q, args)
}

func (r *caseRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string) error {
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set("analysis_progress", progress).
		Set("current_step", step).
		Set("updated_at", r.now()).
		Where(entsql.EQ("id", id)).
		Query()
	return r.exec(ctx, "update progress", id, q, args)
}

// SaveRecommendations stores the report in the column owned by mode and completes the case.
func (r *caseRepository) SaveRecommendations(ctx context.Context, id uuid.UUID, mode constants.AnalysisMode, report json.RawMessage) error {
	now := r.now()
	recCol, atCol := "default_recommendations", "analyzed_at"
	if mode == constants.ModeWithParameters {
		recCol, atCol = "parameterized_recommendations", "parameterized_analyzed_at"
	}
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set(recCol, jsonArg(report)).
		Set(atCol, now).
		Set("status", string(constants.CaseStatusAnalyzed)).
		Set("analysis_progress", constants.ProgressComplete).
		Set("current_step", constants.StepComplete).
		SetNull("error_message").
		Set("updated_at", now).
		Where(entsql.EQ("id", id)).
		Query()
	return r.exec(ctx, "save recommendations", id, q, args)
}

// MarkFailed leaves progress at its last value so the client can see where it stopped.
func (r *caseRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	b := r.db.Builder()
	q, args := b.Update(CasesTable.Name).
		Set("status", string(constants.CaseStatusError)).
		Set("error_message", message).
		Set("current_step", constants.StepFailed).
		Set("updated_at", r.now()).
		Where(entsql.EQ("id", id)).
		Query()
	return r.exec(ctx, "mark failed", id, q, args)
}

// ListUnfinished returns pending or processing cases not touched since updatedBefore, oldest first.
func (r *caseRepository) ListUnfinished(ctx context.Context, updatedBefore time.Time) ([]*entity.Case, error) {
	b := r.db.Builder()
	q, args := b.Select(caseColumns...).From(b.Table(CasesTable.Name)).
		Where(entsql.And(
			entsql.In("status", string(constants.CaseStatusPending), string(constants.CaseStatusProcessing)),
			entsql.LT("updated_at", updatedBefore.UTC()),
		)).
		OrderBy(entsql.Asc("updated_at")).
		Query()
	return r.query(ctx, q, args)
}

func (r *caseRepository) exec(ctx context.Context, op string, id uuid.UUID, q string, args []any) error {
	var res sql.Result
	if err := r.db.Exec(ctx, q, args, &res); err != nil {
		r.logger.Error("case update failed", "op", op, "case_id", id, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("CASE_NOT_FOUND", "Case not found", common.ErrNotFound)
	}
	return nil
}

func (r *caseRepository) query(ctx context.Context, q string, args []any) ([]*entity.Case, error) {
	var rows entsql.Rows
	if err := r.db.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var out []*entity.Case
	for rows.Next() {
		var (
			c                 entity.Case
			defRec, paramRec  []byte
			errMsg            sql.NullString
			analyzedAt, parAt sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.OrgID, &c.UserID, &c.CaseTitle, &c.FileName, &c.FileSize, &c.FileURL,
			&c.Status, &c.AnalysisMode, &c.AnalysisProgress, &c.CurrentStep,
			&defRec, &paramRec, &errMsg,
			&c.CreatedAt, &c.UpdatedAt, &analyzedAt, &parAt,
		); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.DefaultRecommendations = nullJSON(defRec)
		c.ParameterizedRecommendations = nullJSON(paramRec)
		c.ErrorMessage = nullString(errMsg)
		c.AnalyzedAt = nullTime(analyzedAt)
		c.ParameterizedAnalyzedAt = nullTime(parAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}
