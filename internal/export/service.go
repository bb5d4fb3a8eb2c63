package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// Sheet names, in workbook order.
const (
	SheetSummary         = "Summary"
	SheetRecommendations = "Recommendations"
	SheetChecklist       = "Checklist"
	SheetFlags           = "Flags"
	SheetTimeline        = "Timeline"
)

// Leveler names the compliance level for a score percentage.
type Leveler interface {
	LevelFor(score float64) string
}

// Service produces XLSX workbooks of stored case recommendations.
type Service struct {
	cases  repository.CaseRepository
	levels Leveler
	logger *slog.Logger
}

func NewService(cases repository.CaseRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cases: cases, logger: logger}
}

// WithLevels fills in the compliance level of reports that only carry a score.
func (s *Service) WithLevels(l Leveler) *Service {
	s.levels = l
	return s
}

// ExportCaseXLSX returns the workbook bytes and a suggested file name.
func (s *Service) ExportCaseXLSX(ctx context.Context, orgID string, caseID uuid.UUID, mode constants.AnalysisMode) ([]byte, string, error) {
	start := time.Now()
	if mode == "" {
		mode = constants.ModeDefault
	}
	c, err := s.cases.GetForOrg(ctx, orgID, caseID)
	if err != nil {
		return nil, "", err
	}

	raw := c.DefaultRecommendations
	if mode == constants.ModeWithParameters {
		raw = c.ParameterizedRecommendations
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", common.NewAppError("NO_REPORT", "Case has no recommendations for this mode", common.ErrNotFound)
	}
	parsed, err := llm.ParseReport(string(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode stored report: %w", err)
	}

	if cs := parsed.Report.ComplianceScore; cs != nil && cs.Overall == "" && s.levels != nil {
		cs.Overall = s.levels.LevelFor(cs.ScorePercentage)
	}

	f, err := BuildWorkbook(c, mode, &parsed.Report)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"case_id", caseID.String(),
		"mode", mode,
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), FileName(c, mode), nil
}

// FileName is a filesystem-safe name for the export of c.
func FileName(c *entity.Case, mode constants.AnalysisMode) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, c.CaseTitle)
	if base == "" {
		base = c.ID.String()
	}
	suffix := "recommendations"
	if mode == constants.ModeWithParameters {
		suffix = "compliance"
	}
	return fmt.Sprintf("%s_%s.xlsx", base, suffix)
}

type sheetWriter struct {
	f     *excelize.File
	name  string
	row   int
	style int
}

func (w *sheetWriter) header(cols ...any) error {
	return w.line(true, cols...)
}

func (w *sheetWriter) add(cols ...any) error {
	return w.line(false, cols...)
}

func (w *sheetWriter) line(bold bool, cols ...any) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(w.name, cell, &cols); err != nil {
		return err
	}
	if bold && len(cols) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(cols), w.row)
		return w.f.SetCellStyle(w.name, cell, last, w.style)
	}
	return nil
}

// BuildWorkbook lays out a report over five sheets.
func BuildWorkbook(c *entity.Case, mode constants.AnalysisMode, r *llm.Report) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetRecommendations, SheetChecklist, SheetFlags, SheetTimeline} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	sheet := func(name string) *sheetWriter { return &sheetWriter{f: f, name: name, style: bold} }

	steps := []func(*sheetWriter) error{
		func(w *sheetWriter) error { return writeSummary(w, c, mode, r) },
		func(w *sheetWriter) error { return writeRecommendations(w, r) },
		func(w *sheetWriter) error { return writeChecklist(w, r) },
		func(w *sheetWriter) error { return writeFlags(w, r) },
		func(w *sheetWriter) error { return writeTimeline(w, r) },
	}
	names := []string{SheetSummary, SheetRecommendations, SheetChecklist, SheetFlags, SheetTimeline}
	for i, step := range steps {
		if err := step(sheet(names[i])); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", names[i], err)
		}
	}

	_ = f.SetColWidth(SheetSummary, "A", "A", 22)
	_ = f.SetColWidth(SheetSummary, "B", "B", 90)
	_ = f.SetColWidth(SheetRecommendations, "A", "B", 24)
	_ = f.SetColWidth(SheetRecommendations, "C", "D", 60)
	_ = f.SetColWidth(SheetChecklist, "A", "A", 48)
	_ = f.SetColWidth(SheetFlags, "B", "B", 60)
	_ = f.SetColWidth(SheetTimeline, "A", "A", 36)
	f.SetActiveSheet(0)
	return f, nil
}

func writeSummary(w *sheetWriter, c *entity.Case, mode constants.AnalysisMode, r *llm.Report) error {
	analyzed := c.AnalyzedAt
	if mode == constants.ModeWithParameters {
		analyzed = c.ParameterizedAnalyzedAt
	}
	rows := [][2]any{
		{"Case", c.CaseTitle},
		{"File", c.FileName},
		{"Analysis mode", string(mode)},
		{"Analyzed at", formatTime(analyzed)},
		{"Document type", r.DocumentType},
		{"Summary", r.CaseSummary},
	}
	if r.Warning != "" {
		rows = append(rows, [2]any{"Warning", r.Message})
	}
	if cs := r.ComplianceScore; cs != nil {
		rows = append(rows,
			[2]any{"Compliance", cs.Overall},
			[2]any{"Score (%)", cs.ScorePercentage},
			[2]any{"Compliance summary", cs.Summary},
		)
	}
	if err := w.header("Field", "Value"); err != nil {
		return err
	}
	for _, kv := range rows {
		if err := w.add(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func writeRecommendations(w *sheetWriter, r *llm.Report) error {
	if err := w.header("Area", "Title", "Recommendation", "Rationale", "Priority / Impact", "Rule"); err != nil {
		return err
	}
	if pr := r.ProcedoRecommends; pr != nil {
		for _, p := range pr.PrimaryRecommendations {
			if err := w.add("Primary", p.Title, p.Recommendation, p.Rationale, p.Priority, p.RuleReference); err != nil {
				return err
			}
		}
	}
	if rec := r.Recommendations; rec != nil {
		if l := rec.Language; l != nil {
			if err := w.add("Language", "", l.Recommendation, l.Reasoning, l.Confidence, l.RuleRef); err != nil {
				return err
			}
		}
		if b := rec.Bifurcation; b != nil {
			reason := b.Reasoning
			if b.HistoricalContext != "" {
				reason = strings.TrimSpace(reason + "\n" + b.HistoricalContext)
			}
			if err := w.add("Bifurcation", "", b.Recommendation, reason, "", b.RuleRef); err != nil {
				return err
			}
		}
		if h := rec.HearingFormat; h != nil {
			if err := w.add("Hearing format", "", h.Recommendation, h.Reasoning, "", h.RuleRef); err != nil {
				return err
			}
		}
		for _, e := range rec.EfficiencySuggestions {
			if err := w.add("Efficiency", e.Type, e.Suggestion, e.Rationale, joinNonEmpty(e.PotentialImpact, e.EstimatedSavings), ""); err != nil {
				return err
			}
		}
	}
	for _, o := range r.OptimizationOpportunities {
		if err := w.add("Optimization", o.ProvisionName, o.SuggestedOptimization, o.CurrentApproach, joinNonEmpty(o.PotentialImpact, o.EstimatedSavings), o.ProvisionRef); err != nil {
			return err
		}
	}
	return nil
}

func writeChecklist(w *sheetWriter, r *llm.Report) error {
	if err := w.header("Item", "Status", "Guidance / Finding", "Action required", "Rule"); err != nil {
		return err
	}
	if pr := r.ProcedoRecommends; pr != nil {
		for _, it := range pr.ProceduralChecklist {
			if err := w.add(it.Item, it.Status, it.DeadlineGuidance, "", ""); err != nil {
				return err
			}
		}
	}
	for _, m := range r.MandatoryCompliance {
		if err := w.add(m.ProvisionName, m.Status, m.Finding, m.ActionRequired, m.ProvisionRef); err != nil {
			return err
		}
	}
	return nil
}

func writeFlags(w *sheetWriter, r *llm.Report) error {
	if err := w.header("Source", "Issue", "Severity", "Rule", "Annulment risk", "Immediate action"); err != nil {
		return err
	}
	emit := func(source string, flags []llm.Flag) error {
		for _, fl := range flags {
			if err := w.add(source, fl.Issue, fl.Severity, fl.RuleRef, yesNo(fl.AnnulmentRisk), fl.ImmediateAction); err != nil {
				return err
			}
		}
		return nil
	}
	if err := emit("Critical", r.CriticalFlags); err != nil {
		return err
	}
	if r.Recommendations != nil {
		return emit("Mandatory", r.Recommendations.MandatoryFlags)
	}
	return nil
}

func writeTimeline(w *sheetWriter, r *llm.Report) error {
	if err := w.header("Phase", "Suggested days", "Benchmark", "Reasoning"); err != nil {
		return err
	}
	if r.Recommendations == nil || r.Recommendations.Timeline == nil {
		return nil
	}
	for _, p := range r.Recommendations.Timeline.Phases {
		if err := w.add(p.Name, p.SuggestedDays, p.Benchmark, p.Reasoning); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " / ")
}
