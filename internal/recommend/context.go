package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// Query caps for precedent and benchmark lookups.
const (
	PrecedentLimit = 50
	TimelineLimit  = 100
)

// PrecedentGroup holds the historical events of one event type.
type PrecedentGroup struct {
	Type   string
	Events []*entity.EventWithOrder
}

// Benchmark is the rounded average duration of a phase across historical orders.
type Benchmark struct {
	Avg   int `json:"avg"`
	Count int `json:"count"`
}

// Benchmarks keeps phases in the order they were first seen.
type Benchmarks struct {
	Phases  []string
	ByPhase map[string]Benchmark
}

// Len returns the number of phases.
func (b Benchmarks) Len() int { return len(b.Phases) }

// MarshalJSON renders an object whose keys follow first-seen order.
func (b Benchmarks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, phase := range b.Phases {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(phase)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(b.ByPhase[phase])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Context is everything the prompt builders know about an organization.
type Context struct {
	Rules      []*entity.InstitutionRule
	Precedents []PrecedentGroup
	Timelines  Benchmarks
}

// Builder loads the org-specific context for analysis prompts.
type Builder struct {
	rules      repository.RuleRepository
	precedents repository.PrecedentRepository
	logger     *slog.Logger
}

func NewBuilder(rules repository.RuleRepository, precedents repository.PrecedentRepository, logger *slog.Logger) *Builder {
	return &Builder{rules: rules, precedents: precedents, logger: logger}
}

// MatchRules returns all rules of the org, lowest hierarchy level first.
func (b *Builder) MatchRules(ctx context.Context, orgID string) ([]*entity.InstitutionRule, error) {
	rules, err := b.rules.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	return rules, nil
}

// FindPrecedents groups the org's most recent historical events by type.
func (b *Builder) FindPrecedents(ctx context.Context, orgID string) ([]PrecedentGroup, error) {
	events, err := b.precedents.ListEventsWithOrders(ctx, orgID, PrecedentLimit)
	if err != nil {
		return nil, fmt.Errorf("find precedents: %w", err)
	}
	return GroupPrecedents(events), nil
}

// FindTimelineBenchmarks averages historical phase durations for the org.
func (b *Builder) FindTimelineBenchmarks(ctx context.Context, orgID string) (Benchmarks, error) {
	rows, err := b.precedents.ListTimelinesWithOrders(ctx, orgID, TimelineLimit)
	if err != nil {
		return Benchmarks{}, fmt.Errorf("find timeline benchmarks: %w", err)
	}
	return AverageTimelines(rows), nil
}

// Build runs the three lookups concurrently.
func (b *Builder) Build(ctx context.Context, orgID string) (*Context, error) {
	start := time.Now()
	out := &Context{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rules, err := b.MatchRules(gctx, orgID)
		out.Rules = rules
		return err
	})
	g.Go(func() error {
		groups, err := b.FindPrecedents(gctx, orgID)
		out.Precedents = groups
		return err
	})
	g.Go(func() error {
		bm, err := b.FindTimelineBenchmarks(gctx, orgID)
		out.Timelines = bm
		return err
	})
	if err := g.Wait(); err != nil {
		b.logger.Error("context.build.failed", "org_id", orgID, "err", err)
		return nil, err
	}

	b.logger.Info("context.build.ok",
		"org_id", orgID,
		"rules", len(out.Rules),
		"precedent_types", len(out.Precedents),
		"phases", out.Timelines.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// GroupPrecedents buckets events by type, keeping first-seen group order.
func GroupPrecedents(events []*entity.EventWithOrder) []PrecedentGroup {
	index := make(map[string]int)
	var groups []PrecedentGroup
	for _, e := range events {
		t := e.Event.EventType
		i, ok := index[t]
		if !ok {
			i = len(groups)
			index[t] = i
			groups = append(groups, PrecedentGroup{Type: t})
		}
		groups[i].Events = append(groups[i].Events, e)
	}
	return groups
}

// AverageTimelines sums days per phase and rounds the mean, halves rounding up.
func AverageTimelines(rows []*entity.TimelineWithOrder) Benchmarks {
	out := Benchmarks{ByPhase: make(map[string]Benchmark)}
	sums := make(map[string]int)
	for _, r := range rows {
		phase := r.Timeline.Phase
		bm, ok := out.ByPhase[phase]
		if !ok {
			out.Phases = append(out.Phases, phase)
		}
		bm.Count++
		sums[phase] += r.Timeline.Days
		out.ByPhase[phase] = bm
	}
	for _, phase := range out.Phases {
		bm := out.ByPhase[phase]
		bm.Avg = int(math.Floor(float64(sums[phase])/float64(bm.Count) + 0.5))
		out.ByPhase[phase] = bm
	}
	return out
}
