package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/analysis"
	"github.com/joseph-ayodele/procedo/internal/async"
	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/export"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/history"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/recommend"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

const report = `{"case_summary":"Request for bifurcation of jurisdictional objections.","document_type":"Procedural Order","procedo_recommends":{"primary_recommendations":[{"title":"Decide bifurcation on the papers","priority":"high","rule_reference":"Rule 44"}]}}`

const extractedOrder = `{
  "order_meta": {"number": "Procedural Order No. 2", "date": "2023-05-02"},
  "events": [{"type": "Document Production", "decision": "Granted in part"}],
  "timelines": [{"phase": "Reply", "party": "Claimant", "days": 60}]
}`

type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, data []byte) (extract.Result, error) {
	return extract.Result{Text: "PROCEDURAL ORDER No. 3\n" + string(data), Pages: 1, Method: extract.MethodNative}, nil
}

type cannedGenerator struct{ chunks []string }

func (g cannedGenerator) Generate(ctx context.Context, p llm.Prompt, onDelta llm.DeltaFunc) (*llm.Generation, error) {
	for _, c := range g.chunks {
		onDelta(c)
	}
	return &llm.Generation{Raw: strings.Join(g.chunks, ""), ToolUsed: true, StopReason: "tool_use"}, nil
}

type cannedOrders struct{}

func (cannedOrders) ExtractOrder(ctx context.Context, text string) (string, error) {
	return extractedOrder, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *recordingQueue) Enqueue(ctx context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

func (q *recordingQueue) snapshot() []async.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]async.Job(nil), q.jobs...)
}

type testEnv struct {
	handler  http.Handler
	cases    repository.CaseRepository
	queue    *recordingQueue
	analysis *analysis.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, logger) })
	require.NoError(t, repository.Migrate(context.Background(), db, logger))

	store, err := blob.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	params, err := recommend.DefaultParameters()
	require.NoError(t, err)

	cases := repository.NewCaseRepository(db, logger)
	rules := repository.NewRuleRepository(db, logger)
	precedents := repository.NewPrecedentRepository(db, logger)
	builder := recommend.NewBuilder(rules, precedents, logger)
	gen := cannedGenerator{chunks: []string{report[:50], report[50:]}}
	queue := &recordingQueue{}

	svc := analysis.NewService(cases, store, queue, textExtractor{}, builder, gen, params, logger)
	srv := NewHTTPServer(Deps{
		Analysis: svc,
		History:  history.NewIngestor(precedents, textExtractor{}, cannedOrders{}, store, logger),
		Export:   export.NewService(cases, logger),
		Rules:    rules,
		DB:       db,
		Logger:   logger,
	})
	return &testEnv{handler: srv.Handler(), cases: cases, queue: queue, analysis: svc}
}

type filePart struct {
	name string
	data string
}

func multipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, org, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if org != "" {
		req.Header.Set(HeaderOrgID, org)
		req.Header.Set(HeaderUserID, "user-1")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submit(t *testing.T, org string) *entity.Case {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"title": "PO3"}, filePart{name: "po3.pdf", data: "%PDF-1.7"})
	rec := e.do(t, org, http.MethodPost, "/api/cases", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var c entity.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return &c
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthzNeedsNoIdentity(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "", http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestAPIRequiresIdentity(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "", http.MethodGet, "/api/cases", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec))
}

func TestSubmitAndPollStatus(t *testing.T) {
	e := newTestEnv(t)
	c := e.submit(t, "org-1")
	assert.Equal(t, "PO3", c.CaseTitle)
	assert.Equal(t, string(constants.CaseStatusPending), c.Status)

	jobs := e.queue.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, c.ID, jobs[0].CaseID)
	assert.NotEmpty(t, jobs[0].TraceID)

	rec := e.do(t, "org-1", http.MethodGet, "/api/cases/"+c.ID.String()+"/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "pending", st["status"])
	assert.Equal(t, false, st["done"])
	assert.Equal(t, constants.StepQueued, st["currentStep"])
	assert.Nil(t, st["defaultRecommendations"])

	rec = e.do(t, "org-2", http.MethodGet, "/api/cases/"+c.ID.String()+"/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)

	body, ct := multipartBody(t, nil, filePart{name: "notes.docx", data: "x"})
	rec := e.do(t, "org-1", http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, map[string]string{"mode": "fast"}, filePart{name: "po.pdf", data: "x"})
	rec = e.do(t, "org-1", http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "mode must be")

	body, ct = multipartBody(t, map[string]string{"title": "no file"})
	rec = e.do(t, "org-1", http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided", decodeError(t, rec))

	assert.Empty(t, e.queue.snapshot())
}

func TestSubmitTooLarge(t *testing.T) {
	e := newTestEnv(t)
	big := strings.Repeat("a", constants.MaxCaseFileSize+2<<20)
	body, ct := multipartBody(t, nil, filePart{name: "big.pdf", data: big})
	rec := e.do(t, "org-1", http.MethodPost, "/api/cases", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File too large. Max size is 10MB", decodeError(t, rec))
}

func TestGetAndListCases(t *testing.T) {
	e := newTestEnv(t)
	c := e.submit(t, "org-1")
	e.submit(t, "org-1")
	e.submit(t, "org-2")

	rec := e.do(t, "org-1", http.MethodGet, "/api/cases/"+c.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got entity.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, c.ID, got.ID)

	rec = e.do(t, "org-1", http.MethodGet, "/api/cases/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "org-1", http.MethodGet, "/api/cases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Cases []entity.Case `json:"cases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Cases, 2)

	rec = e.do(t, "org-3", http.MethodGet, "/api/cases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cases":[]}`, rec.Body.String())

	rec = e.do(t, "org-1", http.MethodGet, "/api/cases?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReanalyzeWithParameters(t *testing.T) {
	e := newTestEnv(t)
	c := e.submit(t, "org-1")

	rec := e.do(t, "org-1", http.MethodPost, "/api/cases/"+c.ID.String()+"/analyze?mode=with_parameters", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "Analysis already in progress", decodeError(t, rec))
	require.Len(t, e.queue.snapshot(), 1)

	require.NoError(t, e.cases.SaveRecommendations(context.Background(), c.ID, constants.ModeDefault, json.RawMessage(report)))
	rec = e.do(t, "org-1", http.MethodPost, "/api/cases/"+c.ID.String()+"/analyze?mode=with_parameters", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs := e.queue.snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, constants.ModeWithParameters, jobs[1].Mode)

	rec = e.do(t, "org-1", http.MethodPost, "/api/cases/"+c.ID.String()+"/analyze?mode=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportWorkbook(t *testing.T) {
	e := newTestEnv(t)
	c := e.submit(t, "org-1")

	rec := e.do(t, "org-1", http.MethodGet, "/api/cases/"+c.ID.String()+"/export.xlsx", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, e.cases.SaveRecommendations(context.Background(), c.ID, constants.ModeDefault, json.RawMessage(report)))

	rec = e.do(t, "org-1", http.MethodGet, "/api/cases/"+c.ID.String()+"/export.xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "_recommendations.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Contains(t, f.GetSheetList(), export.SheetRecommendations)
}

func TestAnalyzeCaseStreamsEvents(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, nil, filePart{name: "po3.pdf", data: "%PDF-1.7"})
	rec := e.do(t, "org-1", http.MethodPost, "/api/analyze-case", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, "event: start\n")
	assert.Contains(t, out, "event: delta\n")
	assert.Contains(t, out, "event: report\ndata: "+report+"\n\n")
	assert.Less(t, strings.Index(out, "event: start"), strings.Index(out, "event: report"))
	assert.Empty(t, e.queue.snapshot())
}

func TestAnalyzeCaseValidationIsPlainJSON(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, nil, filePart{name: "po3.txt", data: "x"})
	rec := e.do(t, "org-1", http.MethodPost, "/api/analyze-case", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHistoryUpload(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, nil,
		filePart{name: "po2.pdf", data: "order two"},
		filePart{name: "empty.pdf", data: ""},
	)
	rec := e.do(t, "org-1", http.MethodPost, "/api/history", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Results []history.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.Equal(t, "Procedural Order No. 2", out.Results[0].OrderNumber)
	assert.False(t, out.Results[1].Success)
	assert.NotEmpty(t, out.Results[1].Error)
}

func TestHistoryUploadTooLargeReportsItsOwnLimit(t *testing.T) {
	srv := NewHTTPServer(Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	srv.historyLimit = 1 << 20

	body, ct := multipartBody(t, nil,
		filePart{name: "po1.pdf", data: strings.Repeat("a", 600<<10)},
		filePart{name: "po2.pdf", data: strings.Repeat("b", 600<<10)},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/history", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderOrgID, "org-1")
	req.Header.Set(HeaderUserID, "user-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Upload too large. Max size is 1MB", decodeError(t, rec))
}

func TestHistoryUploadWithoutFiles(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"note": "x"})
	rec := e.do(t, "org-1", http.MethodPost, "/api/history", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesUpsertAndList(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "org-1", http.MethodPut, "/api/rules",
		strings.NewReader(`{"rules":[{"institution":"ICSID","version":"2022","document_type":"Arbitration Rules"}]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "Ref")

	rec = e.do(t, "org-1", http.MethodPut, "/api/rules", strings.NewReader(`{"rules":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "org-1", http.MethodPut, "/api/rules",
		strings.NewReader(`{"rules":[{"institution":"ICSID","version":"2022","document_type":"Arbitration Rules","ref":"Rule 44","mandatory":true}]}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"upserted":1}`, rec.Body.String())

	rec = e.do(t, "org-1", http.MethodGet, "/api/rules", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Rules []entity.InstitutionRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Rules, 1)
	assert.Equal(t, "Rule 44", out.Rules[0].Ref)

	rec = e.do(t, "org-2", http.MethodGet, "/api/rules", nil, "")
	assert.JSONEq(t, `{"rules":[]}`, rec.Body.String())
}

func dialStatus(t *testing.T, reader StatusReader) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(NewCaseStatusService(reader, nil), nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func statusRequest(t *testing.T, org, id string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{"org_id": org, "case_id": id})
	require.NoError(t, err)
	return req
}

func TestGRPCGetCaseStatus(t *testing.T) {
	e := newTestEnv(t)
	c := e.submit(t, "org-1")
	conn := dialStatus(t, e.analysis)
	ctx := context.Background()

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, GetCaseStatusMethod, statusRequest(t, "org-1", c.ID.String()), out))
	assert.Equal(t, "pending", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, c.ID.String(), out.GetFields()["id"].GetStringValue())
	assert.Equal(t, constants.StepQueued, out.GetFields()["currentStep"].GetStringValue())

	err := conn.Invoke(ctx, GetCaseStatusMethod, statusRequest(t, "org-2", c.ID.String()), new(structpb.Struct))
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, GetCaseStatusMethod, statusRequest(t, "org-1", "nope"), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(ctx, GetCaseStatusMethod, statusRequest(t, "", c.ID.String()), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	e := newTestEnv(t)
	conn := dialStatus(t, e.analysis)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: CaseStatusServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
