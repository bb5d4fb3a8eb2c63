package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// Defaults applied to every ingested order.
const (
	DefaultInstitution = "ICSID"
	DefaultCaseType    = "Arbitration"
	UnknownOrderNumber = "Unknown Order"
)

// Result is the outcome of ingesting one historical order.
type Result struct {
	Success     bool   `json:"success"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Error       string `json:"error,omitempty"`
	Source      string `json:"source,omitempty"`
	Events      int    `json:"events,omitempty"`
	Timelines   int    `json:"timelines,omitempty"`
	// Duplicate is set when the same document was ingested before.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Ingestor turns historical procedural orders into precedent rows.
type Ingestor struct {
	precedents repository.PrecedentRepository
	extractor  extract.TextExtractor
	orders     llm.OrderExtractor
	blobs      blob.Store
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngestor wires the ingestor. blobs may be nil, in which case uploads are
// not kept and only the file name is recorded as the source.
func NewIngestor(
	precedents repository.PrecedentRepository,
	extractor extract.TextExtractor,
	orders llm.OrderExtractor,
	blobs blob.Store,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		precedents: precedents,
		extractor:  extractor,
		orders:     orders,
		blobs:      blobs,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessOrder ingests one order. Failures are reported in the Result.
func (i *Ingestor) ProcessOrder(ctx context.Context, orgID, name string, data []byte) Result {
	res, err := i.processOrder(ctx, orgID, name, data)
	if err != nil {
		i.logger.Error("history.order.failed", "org_id", orgID, "source", name, "err", err)
		return Result{Success: false, Error: common.PublicMessage(err), Source: name}
	}
	return res
}

func (i *Ingestor) processOrder(ctx context.Context, orgID, name string, data []byte) (Result, error) {
	start := time.Now()
	if len(data) == 0 {
		return Result{}, common.NewAppError("NO_FILE", "No file provided", common.ErrInvalidInput)
	}
	if len(data) > constants.MaxHistoryFileSize {
		return Result{}, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("File too large. Max size is %dMB", constants.MaxHistoryFileSize/1024/1024), common.ErrTooLarge)
	}

	source := filepath.Base(name)
	if i.blobs != nil {
		source = blob.Key(blob.HistoryPrefix(orgID), name, data)
	}
	existing, err := i.precedents.FindOrderBySource(ctx, orgID, source)
	switch {
	case err == nil:
		i.logger.Info("history.order.duplicate", "org_id", orgID, "order", existing.ProceduralOrderNumber, "source", source)
		return Result{Success: true, OrderNumber: existing.ProceduralOrderNumber, Source: name, Duplicate: true}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Result{}, fmt.Errorf("find order: %w", err)
	}

	text, err := i.extractor.Extract(ctx, data)
	if errors.Is(err, extract.ErrEncrypted) {
		return Result{}, err
	}
	if err != nil {
		return Result{}, common.NewAppError("NO_TEXT", "Could not extract text from PDF", err)
	}

	raw, err := i.orders.ExtractOrder(ctx, text.Text)
	if err != nil {
		return Result{}, fmt.Errorf("extract order: %w", err)
	}
	parsed, err := llm.ParseExtractedOrder(raw)
	if err != nil {
		return Result{}, err
	}

	if i.blobs != nil {
		obj, err := i.blobs.Put(ctx, blob.HistoryPrefix(orgID), name, data)
		if err != nil {
			return Result{}, fmt.Errorf("store order: %w", err)
		}
		source = obj.Key
	}

	req := BuildOrderRows(orgID, source, parsed, i.now())
	if err := i.precedents.CreateOrder(ctx, req); err != nil {
		return Result{}, err
	}

	i.logger.Info("history.order.ok",
		"org_id", orgID,
		"order", req.Order.ProceduralOrderNumber,
		"events", len(req.Events),
		"timelines", len(req.Timelines),
		"dropped", parsed.Dropped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Result{
		Success:     true,
		OrderNumber: req.Order.ProceduralOrderNumber,
		Source:      name,
		Events:      len(req.Events),
		Timelines:   len(req.Timelines),
	}, nil
}

// ProcessPath reads a file from disk and ingests it.
func (i *Ingestor) ProcessPath(ctx context.Context, orgID, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Source: path}
	}
	// size is checked before reading so oversized files are never loaded
	if info.Size() > constants.MaxHistoryFileSize {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("File too large. Max size is %dMB", constants.MaxHistoryFileSize/1024/1024),
			Source:  path,
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Source: path}
	}
	res := i.ProcessOrder(ctx, orgID, path, data)
	res.Source = path
	return res
}

// BuildOrderRows maps an extraction onto the rows stored for it.
func BuildOrderRows(orgID, source string, x *llm.ExtractedOrder, now time.Time) *repository.CreateOrderRequest {
	number := x.OrderMeta.Number
	if number == "" {
		number = UnknownOrderNumber
	}
	date := now
	if x.OrderMeta.Date != nil {
		date = *x.OrderMeta.Date
	}
	rules := x.OrderMeta.RulesContext
	if rules == nil {
		rules = []string{}
	}
	caseType := DefaultCaseType

	order := &entity.ProceduralOrder{
		ID:                    uuid.New(),
		OrgID:                 orgID,
		Institution:           DefaultInstitution,
		CaseType:              &caseType,
		ProceduralOrderNumber: number,
		RulesContext:          rules,
		OrderDate:             &date,
		SourcePDFPath:         &source,
		CreatedAt:             now,
		ExtractedJSON:         x.Raw,
	}

	req := &repository.CreateOrderRequest{Order: order}
	for _, e := range x.Events {
		extra, _ := json.Marshal(map[string]json.RawMessage{"raw": rawOrNull(e.Raw)})
		req.Events = append(req.Events, &entity.ProceduralEvent{
			ID:                uuid.New(),
			ProceduralOrderID: order.ID,
			EventType:         e.Type,
			DecisionValue:     e.Decision,
			Discretionary:     e.Discretionary,
			SourceRuleRef:     e.RuleRef,
			ExtraData:         extra,
			CreatedAt:         now,
		})
	}
	for _, t := range x.Timelines {
		req.Timelines = append(req.Timelines, &entity.ProceduralTimeline{
			ID:                uuid.New(),
			ProceduralOrderID: order.ID,
			Phase:             t.Phase,
			Party:             t.Party,
			Days:              t.Days,
			RelativeTo:        t.RelativeTo,
			CreatedAt:         now,
		})
	}
	return req
}

func rawOrNull(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
