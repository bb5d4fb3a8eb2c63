package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/internal/entity"
)

var ruleColumns = []string{
	"id", "org_id", "institution", "version", "document_type", "ref", "title", "summary",
	"mandatory", "parameter_tag", "extra_data", "non_derogable", "annulment_linked",
	"hierarchy_level", "ai_usage",
}

// columns rewritten when an import hits an existing (org, institution, version, ref)
var ruleUpdatable = []string{
	"document_type", "title", "summary", "mandatory", "parameter_tag", "extra_data",
	"non_derogable", "annulment_linked", "hierarchy_level", "ai_usage",
}

type RuleRepository interface {
	ListByOrg(ctx context.Context, orgID string) ([]*entity.InstitutionRule, error)
	Upsert(ctx context.Context, orgID string, rules []*entity.InstitutionRule) (int, error)
}

type ruleRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRuleRepository(db *DB, logger *slog.Logger) RuleRepository {
	return &ruleRepository{db: db, logger: logger}
}

// ListByOrg returns the org's rules, most fundamental hierarchy level first.
func (r *ruleRepository) ListByOrg(ctx context.Context, orgID string) ([]*entity.InstitutionRule, error) {
	b := r.db.Builder()
	q, args := b.Select(ruleColumns...).From(b.Table(InstitutionRulesTable.Name)).
		Where(entsql.EQ("org_id", orgID)).
		OrderBy(entsql.Asc("hierarchy_level"), entsql.Asc("ref")).
		Query()

	var rows entsql.Rows
	if err := r.db.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to list rules", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*entity.InstitutionRule
	for rows.Next() {
		var (
			rule                        entity.InstitutionRule
			title, summary, tag, aiUsed sql.NullString
			extra                       []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.OrgID, &rule.Institution, &rule.Version, &rule.DocumentType, &rule.Ref,
			&title, &summary, &rule.Mandatory, &tag, &extra, &rule.NonDerogable, &rule.AnnulmentLinked,
			&rule.HierarchyLevel, &aiUsed,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Title = nullString(title)
		rule.Summary = nullString(summary)
		rule.ParameterTag = nullString(tag)
		rule.AIUsage = nullString(aiUsed)
		rule.ExtraData = nullJSON(extra)
		out = append(out, &rule)
	}
	return out, rows.Err()
}

// Upsert inserts rules for orgID in one transaction, updating rows that share the natural key.
func (r *ruleRepository) Upsert(ctx context.Context, orgID string, rules []*entity.InstitutionRule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	tx, err := r.db.Tx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	b := r.db.Builder()
	for _, rule := range rules {
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		rule.OrgID = orgID
		q, args := b.Insert(InstitutionRulesTable.Name).
			Columns(ruleColumns...).
			Values(
				rule.ID, rule.OrgID, rule.Institution, rule.Version, rule.DocumentType, rule.Ref,
				strArg(rule.Title), strArg(rule.Summary), rule.Mandatory, strArg(rule.ParameterTag),
				jsonArg(rule.ExtraData), rule.NonDerogable, rule.AnnulmentLinked, rule.HierarchyLevel,
				strArg(rule.AIUsage),
			).
			OnConflict(
				entsql.ConflictColumns("org_id", "institution", "version", "ref"),
				entsql.ResolveWith(func(u *entsql.UpdateSet) {
					for _, c := range ruleUpdatable {
						u.SetExcluded(c)
					}
				}),
			).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			_ = tx.Rollback()
			r.logger.Error("failed to upsert rule", "org_id", orgID, "ref", rule.Ref, "error", err)
			return 0, fmt.Errorf("upsert rule %s: %w", rule.Ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rules: %w", err)
	}
	r.logger.Info("rules upserted", "org_id", orgID, "count", len(rules))
	return len(rules), nil
}
