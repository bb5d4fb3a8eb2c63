package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const validReport = `{"case_summary":"Request for bifurcation of jurisdictional objections.","document_type":"Procedural Order","procedo_recommends":{"primary_recommendations":[{"title":"Decide bifurcation on the papers","priority":"high","rule_reference":"Rule 44"}]}}`

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) (extract.Result, error) {
	if f.err != nil {
		return extract.Result{}, f.err
	}
	return extract.Result{Text: f.text, Pages: 2, Method: extract.MethodNative}, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []llm.Prompt
	chunks  []string
	err     error
	// during runs inside Generate after the chunks were delivered
	during func()
}

func (f *fakeGenerator) Generate(ctx context.Context, p llm.Prompt, onDelta llm.DeltaFunc) (*llm.Generation, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		onDelta(c)
	}
	if f.during != nil {
		f.during()
	}
	return &llm.Generation{Raw: strings.Join(f.chunks, ""), ToolUsed: true, StopReason: "tool_use", Model: "test"}, nil
}

func (f *fakeGenerator) lastPrompt() llm.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job async.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

func (q *recordingQueue) last() async.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

type harness struct {
	cases     repository.CaseRepository
	queue     *recordingQueue
	extractor *fakeExtractor
	generator *fakeGenerator
	svc       *Service
	proc      *Processor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()
	db, err := repository.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, logger) })
	require.NoError(t, repository.Migrate(context.Background(), db, logger))

	store, err := blob.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	params, err := recommend.DefaultParameters()
	require.NoError(t, err)

	h := &harness{
		cases:     repository.NewCaseRepository(db, logger),
		queue:     &recordingQueue{},
		extractor: &fakeExtractor{text: "PROCEDURAL ORDER No. 3\nDecision on Bifurcation"},
		generator: &fakeGenerator{chunks: []string{validReport[:40], validReport[40:]}},
	}
	builder := recommend.NewBuilder(
		repository.NewRuleRepository(db, logger),
		repository.NewPrecedentRepository(db, logger),
		logger,
	)
	h.svc = NewService(h.cases, store, h.queue, h.extractor, builder, h.generator, params, logger)
	h.proc = NewProcessor(h.cases, store, h.extractor, builder, h.generator, params, logger).
		WithProgressInterval(time.Hour)
	return h
}

func pdfUpload(org string) Upload {
	return Upload{
		OrgID:       org,
		UserID:      "user-1",
		FileName:    "PO3 Bifurcation.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7 fake"),
	}
}

func (h *harness) submit(t *testing.T, u Upload) *entity.Case {
	t.Helper()
	c, err := h.svc.Submit(context.Background(), u)
	require.NoError(t, err)
	return c
}

func TestSubmit_CreatesPendingCaseAndQueuesJob(t *testing.T) {
	h := newHarness(t)
	c := h.submit(t, pdfUpload("org-1"))

	assert.Equal(t, "PO3 Bifurcation", c.CaseTitle)
	assert.Equal(t, string(constants.CaseStatusPending), c.Status)
	assert.Equal(t, constants.StepQueued, c.CurrentStep)
	assert.Equal(t, 0, c.AnalysisProgress)
	assert.True(t, strings.HasPrefix(c.FileURL, "cases/org-1/"))

	job := h.queue.last()
	assert.Equal(t, c.ID, job.CaseID)
	assert.Equal(t, constants.ModeDefault, job.Mode)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u := pdfUpload("org-1")
	u.FileName = "notes.docx"
	_, err := h.svc.Submit(ctx, u)
	assert.ErrorIs(t, err, common.ErrValidation)

	u = pdfUpload("org-1")
	u.Data = make([]byte, constants.MaxCaseFileSize+1)
	_, err = h.svc.Submit(ctx, u)
	assert.ErrorIs(t, err, common.ErrTooLarge)
	assert.Equal(t, "File too large. Max size is 10MB", common.PublicMessage(err))

	u = pdfUpload("org-1")
	u.Data = nil
	_, err = h.svc.Submit(ctx, u)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestSubmit_QueueFailureMarksCase(t *testing.T) {
	h := newHarness(t)
	h.queue.err = async.ErrQueueClosed

	_, err := h.svc.Submit(context.Background(), pdfUpload("org-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestProcess_DefaultMode(t *testing.T) {
	h := newHarness(t)
	c := h.submit(t, pdfUpload("org-1"))

	require.NoError(t, h.proc.Process(context.Background(), h.queue.last()))

	st, err := h.svc.Status(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusAnalyzed), st.Status)
	assert.True(t, st.Done)
	assert.Equal(t, 100, st.AnalysisProgress)
	assert.Equal(t, constants.StepComplete, st.CurrentStep)
	assert.NotNil(t, st.AnalyzedAt)
	assert.Nil(t, st.ParameterizedAnalyzedAt)
	assert.JSONEq(t, validReport, string(st.DefaultRecommendations))
	assert.Equal(t, "null", string(st.ParameterizedRecommendations))

	p := h.generator.lastPrompt()
	assert.Contains(t, p.System, "You are Procedo")
	assert.Equal(t, "CASE DOCUMENT:\n\n"+h.extractor.text, p.User)
}

func TestProcess_WithParametersKeepsDefaultReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.submit(t, pdfUpload("org-1"))
	require.NoError(t, h.proc.Process(ctx, h.queue.last()))

	_, err := h.svc.Reanalyze(ctx, "org-1", c.ID, constants.ModeWithParameters)
	require.NoError(t, err)
	job := h.queue.last()
	assert.Equal(t, constants.ModeWithParameters, job.Mode)

	h.generator.chunks = []string{`{"case_summary":"s","document_type":"Award","compliance_score":{"overall":"Fully Compliant","score_percentage":92}}`}
	require.NoError(t, h.proc.Process(ctx, job))

	got, err := h.svc.Get(ctx, "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusAnalyzed), got.Status)
	assert.JSONEq(t, validReport, string(got.DefaultRecommendations))
	assert.Contains(t, string(got.ParameterizedRecommendations), "score_percentage")
	assert.NotNil(t, got.ParameterizedAnalyzedAt)
	assert.Contains(t, h.generator.lastPrompt().System, "MANDATORY PROVISIONS")
}

func TestReanalyze_RejectsUnfinishedCases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.submit(t, pdfUpload("org-1"))

	_, err := h.svc.Reanalyze(ctx, "org-1", c.ID, constants.ModeDefault)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, "Analysis already in progress", common.PublicMessage(err))

	require.NoError(t, h.cases.MarkProcessing(ctx, c.ID))
	_, err = h.svc.Reanalyze(ctx, "org-1", c.ID, constants.ModeWithParameters)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Len(t, h.queue.jobs, 1)

	require.NoError(t, h.cases.MarkFailed(ctx, c.ID, "model timed out"))
	got, err := h.svc.Reanalyze(ctx, "org-1", c.ID, constants.ModeDefault)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusPending), got.Status)
	assert.Nil(t, got.ErrorMessage)
	assert.Len(t, h.queue.jobs, 2)
}

func TestProcess_InvalidDocument(t *testing.T) {
	h := newHarness(t)
	h.generator.chunks = []string{`{"error":"invalid_document","message":"This is a restaurant menu."}`}
	c := h.submit(t, pdfUpload("org-1"))

	err := h.proc.Process(context.Background(), h.queue.last())
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvalidDocument)

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusError), got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "This is a restaurant menu.", *got.ErrorMessage)
	assert.Equal(t, constants.ProgressGenerating, got.AnalysisProgress)
	assert.Equal(t, constants.StepFailed, got.CurrentStep)
}

func TestProcess_NonICSIDWarningIsStored(t *testing.T) {
	h := newHarness(t)
	h.generator.chunks = []string{`{"warning":"non_icsid_document","message":"This document appears to be from a non-ICSID proceeding."}`}
	c := h.submit(t, pdfUpload("org-1"))

	require.NoError(t, h.proc.Process(context.Background(), h.queue.last()))

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusAnalyzed), got.Status)
	assert.Contains(t, string(got.DefaultRecommendations), "non_icsid_document")
}

func TestProcess_ExtractionFailureKeepsProgress(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = extract.ErrNoText
	c := h.submit(t, pdfUpload("org-1"))

	require.Error(t, h.proc.Process(context.Background(), h.queue.last()))

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusError), got.Status)
	assert.Equal(t, "Could not extract text from PDF", *got.ErrorMessage)
	assert.Equal(t, constants.ProgressExtracting, got.AnalysisProgress)
}

func TestProcess_GeneratorError(t *testing.T) {
	h := newHarness(t)
	h.generator.err = errors.New("upstream overloaded")
	c := h.submit(t, pdfUpload("org-1"))

	require.Error(t, h.proc.Process(context.Background(), h.queue.last()))

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "generate: upstream overloaded", *got.ErrorMessage)
}

func TestProcess_TruncatedOutputIsRepaired(t *testing.T) {
	h := newHarness(t)
	h.generator.chunks = []string{"```json\n", `{"case_summary":"cut off","document_type":"Memorial","critical_flags":[{"issue":"late filing`}
	c := h.submit(t, pdfUpload("org-1"))

	require.NoError(t, h.proc.Process(context.Background(), h.queue.last()))

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(got.DefaultRecommendations, &report))
	assert.Equal(t, "cut off", report["case_summary"])
}

func TestProcess_ProgressAdvancesWhileStreaming(t *testing.T) {
	h := newHarness(t)
	h.proc.WithProgressInterval(5 * time.Millisecond)
	c := h.submit(t, pdfUpload("org-1"))

	pad := strings.Repeat(" ", expectedReportBytes)
	h.generator.chunks = []string{validReport, pad}
	h.generator.during = func() {
		require.Eventually(t, func() bool {
			got, err := h.cases.Get(context.Background(), c.ID)
			return err == nil && got.AnalysisProgress == constants.ProgressGeneratingMax
		}, 2*time.Second, 10*time.Millisecond)
	}

	require.NoError(t, h.proc.Process(context.Background(), h.queue.last()))
}

func TestStatus_OtherOrgIsNotFound(t *testing.T) {
	h := newHarness(t)
	c := h.submit(t, pdfUpload("org-1"))

	_, err := h.svc.Status(context.Background(), "org-2", c.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = h.svc.Reanalyze(context.Background(), "org-2", c.ID, constants.ModeDefault)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, pdfUpload("org-1"))
	time.Sleep(5 * time.Millisecond)
	u := pdfUpload("org-1")
	u.Title = "Second"
	second := h.submit(t, u)
	h.submit(t, pdfUpload("org-2"))

	got, err := h.svc.List(context.Background(), "org-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}

func TestReaper_SweepFailsStaleCases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	running := h.submit(t, pdfUpload("org-1"))
	waiting := h.submit(t, pdfUpload("org-1"))
	require.NoError(t, h.cases.MarkProcessing(ctx, running.ID))

	r := NewReaper(h.cases, time.Minute, discardLogger())
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.cases.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusError), got.Status)
	assert.Equal(t, InterruptedMessage, *got.ErrorMessage)

	// a queued case behind a slow worker is not failed
	got, err = h.cases.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusPending), got.Status)
	assert.Nil(t, got.ErrorMessage)
}

func TestReaper_StartRejectsBadSchedule(t *testing.T) {
	r := NewReaper(nil, 0, discardLogger())
	assert.Error(t, r.Start("not a schedule"))

	require.NoError(t, r.Start("@every 1h"))
	r.Stop(context.Background())
}

func TestRequeueUnfinished(t *testing.T) {
	h := newHarness(t)
	c := h.submit(t, pdfUpload("org-1"))
	require.NoError(t, h.cases.MarkProcessing(context.Background(), c.ID))
	time.Sleep(5 * time.Millisecond)

	n, err := h.svc.RequeueUnfinished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, c.ID, h.queue.last().CaseID)

	got, err := h.cases.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusPending), got.Status)
}

type sinkEvent struct {
	name string
	data any
}

type recordingSink struct{ events []sinkEvent }

func (s *recordingSink) Send(event string, data any) error {
	s.events = append(s.events, sinkEvent{event, data})
	return nil
}

func TestStream(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}

	require.NoError(t, h.svc.Stream(context.Background(), pdfUpload("org-1"), sink))
	require.Len(t, sink.events, 4)
	assert.Equal(t, EventStart, sink.events[0].name)
	assert.Equal(t, EventDelta, sink.events[1].name)
	assert.Equal(t, validReport[:40], sink.events[1].data)
	assert.Equal(t, EventReport, sink.events[3].name)

	cases, err := h.svc.List(context.Background(), "org-1", 0)
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestStream_NoTextFailsBeforeStreaming(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = extract.ErrNoText
	sink := &recordingSink{}

	err := h.svc.Stream(context.Background(), pdfUpload("org-1"), sink)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Empty(t, sink.events)
}

func TestStream_InvalidDocumentSendsErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.generator.chunks = []string{`{"error":"invalid_document"}`}
	sink := &recordingSink{}

	err := h.svc.Stream(context.Background(), pdfUpload("org-1"), sink)
	assert.ErrorIs(t, err, llm.ErrInvalidDocument)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, EventError, last.name)
}

func TestGenerationProgress(t *testing.T) {
	assert.Equal(t, 35, GenerationProgress(0))
	assert.Equal(t, 62, GenerationProgress(expectedReportBytes/2))
	assert.Equal(t, 90, GenerationProgress(expectedReportBytes))
	assert.Equal(t, 90, GenerationProgress(10*expectedReportBytes))
}

func TestStream_EncryptedFailsBeforeStreaming(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = extract.ErrEncrypted
	sink := &recordingSink{}

	err := h.svc.Stream(context.Background(), pdfUpload("org-1"), sink)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, "PDF is password protected", common.PublicMessage(err))
	assert.Empty(t, sink.events)
}

func TestProcess_EncryptedDocumentIsFailed(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = extract.ErrEncrypted
	c := h.submit(t, pdfUpload("org-1"))

	require.Error(t, h.proc.Process(context.Background(), h.queue.last()))

	got, err := h.svc.Get(context.Background(), "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.CaseStatusError), got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "PDF is password protected", *got.ErrorMessage)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "PDF is password protected", FailureMessage(fmt.Errorf("extract: %w", extract.ErrEncrypted)))
	assert.Equal(t, "analysis timed out", FailureMessage(context.DeadlineExceeded))
	assert.Equal(t, "boom", FailureMessage(errors.New("boom")))
}
