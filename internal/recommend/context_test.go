package recommend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

type fakeRules struct {
	rules []*entity.InstitutionRule
	err   error
}

func (f *fakeRules) ListByOrg(ctx context.Context, orgID string) ([]*entity.InstitutionRule, error) {
	return f.rules, f.err
}

func (f *fakeRules) Upsert(ctx context.Context, orgID string, rules []*entity.InstitutionRule) (int, error) {
	return len(rules), nil
}

type fakePrecedents struct {
	events    []*entity.EventWithOrder
	timelines []*entity.TimelineWithOrder
	err       error

	eventLimit, timelineLimit int
}

func (f *fakePrecedents) CreateOrder(ctx context.Context, req *repository.CreateOrderRequest) error {
	return nil
}

func (f *fakePrecedents) FindOrderBySource(ctx context.Context, orgID, source string) (*entity.ProceduralOrder, error) {
	return nil, common.NewAppError("ORDER_NOT_FOUND", "Procedural order not found", common.ErrNotFound)
}

func (f *fakePrecedents) ListEventsWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.EventWithOrder, error) {
	f.eventLimit = limit
	return f.events, f.err
}

func (f *fakePrecedents) ListTimelinesWithOrders(ctx context.Context, orgID string, limit int) ([]*entity.TimelineWithOrder, error) {
	f.timelineLimit = limit
	return f.timelines, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(typ, decision string) *entity.EventWithOrder {
	e := &entity.EventWithOrder{Event: entity.ProceduralEvent{ID: uuid.New(), EventType: typ}}
	if decision != "" {
		e.Event.DecisionValue = &decision
	}
	return e
}

func timeline(phase string, days int) *entity.TimelineWithOrder {
	return &entity.TimelineWithOrder{Timeline: entity.ProceduralTimeline{Phase: phase, Days: days}}
}

func TestGroupPrecedents_FirstSeenOrder(t *testing.T) {
	groups := GroupPrecedents([]*entity.EventWithOrder{
		event("Costs", "each party bears its own"),
		event("Bifurcation", "granted"),
		event("Costs", "claimant pays"),
		event("Language", "English"),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, "Costs", groups[0].Type)
	assert.Len(t, groups[0].Events, 2)
	assert.Equal(t, "Bifurcation", groups[1].Type)
	assert.Equal(t, "Language", groups[2].Type)
}

func TestAverageTimelines_RoundsHalfUp(t *testing.T) {
	bm := AverageTimelines([]*entity.TimelineWithOrder{
		timeline("Memorial", 90),
		timeline("Counter-Memorial", 60),
		timeline("Memorial", 91),
		timeline("Reply", -3),
		timeline("Reply", -2),
	})

	assert.Equal(t, []string{"Memorial", "Counter-Memorial", "Reply"}, bm.Phases)
	assert.Equal(t, Benchmark{Avg: 91, Count: 2}, bm.ByPhase["Memorial"])
	assert.Equal(t, Benchmark{Avg: 60, Count: 1}, bm.ByPhase["Counter-Memorial"])
	// -2.5 rounds toward positive infinity
	assert.Equal(t, Benchmark{Avg: -2, Count: 2}, bm.ByPhase["Reply"])
}

func TestBenchmarks_MarshalKeepsPhaseOrder(t *testing.T) {
	bm := AverageTimelines([]*entity.TimelineWithOrder{
		timeline("Zeta", 10),
		timeline("Alpha", 20),
	})
	out, err := bm.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"Zeta":{"avg":10,"count":1},"Alpha":{"avg":20,"count":1}}`, string(out))
	assert.Less(t, strings.Index(string(out), "Zeta"), strings.Index(string(out), "Alpha"))

	empty, err := Benchmarks{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestBuilder_Build(t *testing.T) {
	rules := &fakeRules{rules: []*entity.InstitutionRule{{Ref: "Rule 44"}}}
	prec := &fakePrecedents{
		events:    []*entity.EventWithOrder{event("Bifurcation", "denied")},
		timelines: []*entity.TimelineWithOrder{timeline("Memorial", 120)},
	}
	b := NewBuilder(rules, prec, discardLogger())

	c, err := b.Build(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, c.Rules, 1)
	require.Len(t, c.Precedents, 1)
	assert.Equal(t, "Bifurcation", c.Precedents[0].Type)
	assert.Equal(t, 1, c.Timelines.Len())
	assert.Equal(t, PrecedentLimit, prec.eventLimit)
	assert.Equal(t, TimelineLimit, prec.timelineLimit)
}

func TestBuilder_BuildPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	b := NewBuilder(&fakeRules{}, &fakePrecedents{err: boom}, discardLogger())

	_, err := b.Build(context.Background(), "org-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
