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

	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
)

var orderColumns = []string{
	"id", "org_id", "institution", "administering_institution", "case_type",
	"procedural_order_number", "rules_context", "order_date", "source_pdf_path",
	"created_at", "extracted_json", "procedural_order_index",
}

var eventColumns = []string{
	"id", "procedural_order_id", "event_type", "decision_value", "discretionary",
	"source_rule_ref", "extra_data", "created_at",
}

var timelineColumns = []string{
	"id", "procedural_order_id", "phase", "party", "days", "relative_to", "created_at",
}

// CreateOrderRequest is an order together with the rows extracted from it.
type CreateOrderRequest struct {
	Order     *entity.ProceduralOrder
	Events    []*entity.ProceduralEvent
	Timelines []*entity.ProceduralTimeline
}

type PrecedentRepository interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) error
	FindOrderBySource(ctx context.Context, orgID, source string) (*entity.ProceduralOrder, error)
	ListEventsWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.EventWithOrder, error)
	ListTimelinesWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.TimelineWithOrder, error)
}

type precedentRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewPrecedentRepository(db *DB, logger *slog.Logger) PrecedentRepository {
	return &precedentRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder writes the order, its events and its timelines atomically.
func (r *precedentRepository) CreateOrder(ctx context.Context, req *CreateOrderRequest) error {
	o := req.Order
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := r.now()
	o.CreatedAt = now
	rulesCtx, err := json.Marshal(nonNil(o.RulesContext))
	if err != nil {
		return fmt.Errorf("marshal rules context: %w", err)
	}

	tx, err := r.db.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(err error) error {
		_ = tx.Rollback()
		r.logger.Error("failed to create procedural order", "org_id", o.OrgID, "error", err)
		return err
	}

	b := r.db.Builder()
	q, args := b.Insert(ProceduralOrdersTable.Name).
		Columns(orderColumns...).
		Values(
			o.ID, o.OrgID, o.Institution, strArg(o.AdministeringInstitution), strArg(o.CaseType),
			o.ProceduralOrderNumber, string(rulesCtx), timeArg(o.OrderDate), strArg(o.SourcePDFPath),
			o.CreatedAt, jsonArg(o.ExtractedJSON), intArg(o.ProceduralOrderIndex),
		).Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		return rollback(fmt.Errorf("insert order: %w", err))
	}

	if len(req.Events) > 0 {
		ins := b.Insert(ProceduralEventsTable.Name).Columns(eventColumns...)
		for _, e := range req.Events {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			e.ProceduralOrderID = o.ID
			e.CreatedAt = now
			ins = ins.Values(e.ID, e.ProceduralOrderID, e.EventType, strArg(e.DecisionValue), e.Discretionary,
				strArg(e.SourceRuleRef), jsonArg(e.ExtraData), e.CreatedAt)
		}
		q, args = ins.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return rollback(fmt.Errorf("insert events: %w", err))
		}
	}

	if len(req.Timelines) > 0 {
		ins := b.Insert(ProceduralTimelinesTable.Name).Columns(timelineColumns...)
		for _, t := range req.Timelines {
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			t.ProceduralOrderID = o.ID
			t.CreatedAt = now
			ins = ins.Values(t.ID, t.ProceduralOrderID, t.Phase, strArg(t.Party), t.Days, strArg(t.RelativeTo), t.CreatedAt)
		}
		q, args = ins.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return rollback(fmt.Errorf("insert timelines: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	r.logger.Info("procedural order stored",
		"org_id", o.OrgID, "order_id", o.ID, "events", len(req.Events), "timelines", len(req.Timelines))
	return nil
}

// FindOrderBySource returns the org's order stored from source, the content
// addressed key of the uploaded PDF.
func (r *precedentRepository) FindOrderBySource(ctx context.Context, orgID, source string) (*entity.ProceduralOrder, error) {
	b := r.db.Builder()
	q, args := b.Select(orderColumns...).From(b.Table(ProceduralOrdersTable.Name)).
		Where(entsql.And(entsql.EQ("org_id", orgID), entsql.EQ("source_pdf_path", source))).
		OrderBy(entsql.Asc("created_at")).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := r.db.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("query order by source: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.NewAppError("ORDER_NOT_FOUND", "Procedural order not found", common.ErrNotFound)
	}
	var o entity.ProceduralOrder
	dest, build := orderScanner(&o)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := build(); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListEventsWithOrders returns at most limit events of the org's orders, newest first.
func (r *precedentRepository) ListEventsWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.EventWithOrder, error) {
	b := r.db.Builder()
	e := b.Table(ProceduralEventsTable.Name).As("e")
	o := b.Table(ProceduralOrdersTable.Name).As("o")
	cols := append(qualify(e, eventColumns), qualify(o, orderColumns)...)
	q, args := b.Select(cols...).From(e).
		Join(o).On(e.C("procedural_order_id"), o.C("id")).
		Where(entsql.EQ(o.C("org_id"), orgID)).
		OrderBy(entsql.Desc(e.C("created_at")), entsql.Asc(e.C("id"))).
		Limit(limit).
		Query()

	var rows entsql.Rows
	if err := r.db.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to list precedents", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*entity.EventWithOrder
	for rows.Next() {
		var (
			ev            entity.ProceduralEvent
			decision, ref sql.NullString
			extra         []byte
			ord           entity.ProceduralOrder
		)
		scanOrd, build := orderScanner(&ord)
		dest := append([]any{
			&ev.ID, &ev.ProceduralOrderID, &ev.EventType, &decision, &ev.Discretionary, &ref, &extra, &ev.CreatedAt,
		}, scanOrd...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.DecisionValue = nullString(decision)
		ev.SourceRuleRef = nullString(ref)
		ev.ExtraData = nullJSON(extra)
		if err := build(); err != nil {
			return nil, err
		}
		out = append(out, &entity.EventWithOrder{Event: ev, Order: ord})
	}
	return out, rows.Err()
}

// ListTimelinesWithOrders returns at most limit timelines of the org's orders, newest first.
func (r *precedentRepository) ListTimelinesWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.TimelineWithOrder, error) {
	b := r.db.Builder()
	t := b.Table(ProceduralTimelinesTable.Name).As("t")
	o := b.Table(ProceduralOrdersTable.Name).As("o")
	cols := append(qualify(t, timelineColumns), qualify(o, orderColumns)...)
	q, args := b.Select(cols...).From(t).
		Join(o).On(t.C("procedural_order_id"), o.C("id")).
		Where(entsql.EQ(o.C("org_id"), orgID)).
		OrderBy(entsql.Desc(t.C("created_at")), entsql.Asc(t.C("id"))).
		Limit(limit).
		Query()

	var rows entsql.Rows
	if err := r.db.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to list timelines", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("query timelines: %w", err)
	}
	defer rows.Close()

	var out []*entity.TimelineWithOrder
	for rows.Next() {
		var (
			tl         entity.ProceduralTimeline
			party, rel sql.NullString
			ord        entity.ProceduralOrder
		)
		scanOrd, build := orderScanner(&ord)
		dest := append([]any{
			&tl.ID, &tl.ProceduralOrderID, &tl.Phase, &party, &tl.Days, &rel, &tl.CreatedAt,
		}, scanOrd...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		tl.Party = nullString(party)
		tl.RelativeTo = nullString(rel)
		if err := build(); err != nil {
			return nil, err
		}
		out = append(out, &entity.TimelineWithOrder{Timeline: tl, Order: ord})
	}
	return out, rows.Err()
}

// orderScanner returns scan targets for orderColumns and a func that copies them into o.
func orderScanner(o *entity.ProceduralOrder) ([]any, func() error) {
	var (
		admin, caseType, src sql.NullString
		rulesCtx, extracted  []byte
		orderDate            sql.NullTime
		idx                  sql.NullInt64
	)
	dest := []any{
		&o.ID, &o.OrgID, &o.Institution, &admin, &caseType,
		&o.ProceduralOrderNumber, &rulesCtx, &orderDate, &src,
		&o.CreatedAt, &extracted, &idx,
	}
	return dest, func() error {
		o.AdministeringInstitution = nullString(admin)
		o.CaseType = nullString(caseType)
		o.SourcePDFPath = nullString(src)
		o.OrderDate = nullTime(orderDate)
		o.ExtractedJSON = nullJSON(extracted)
		if idx.Valid {
			i := int(idx.Int64)
			o.ProceduralOrderIndex = &i
		}
		o.RulesContext = []string{}
		if len(rulesCtx) > 0 {
			if err := json.Unmarshal(rulesCtx, &o.RulesContext); err != nil {
				return fmt.Errorf("decode rules context: %w", err)
			}
		}
		return nil
	}
}

func qualify(t *entsql.SelectTable, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = t.C(c)
	}
	return out
}

func intArg(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
