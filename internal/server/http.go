package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/analysis"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
	"github.com/joseph-ayodele/procedo/internal/export"
	"github.com/joseph-ayodele/procedo/internal/history"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// multipart overhead allowed on top of the file size limit
	formSlack     = 1 << 20
	maxHistoryReq = 20 * constants.MaxHistoryFileSize
	healthTimeout = 3 * time.Second
	maxJSONBody   = 4 << 20
)

// Deps are the services behind the HTTP API. DB may be nil in tests.
type Deps struct {
	Analysis *analysis.Service
	History  *history.Ingestor
	Export   *export.Service
	Rules    repository.RuleRepository
	DB       *repository.DB
	Logger   *slog.Logger
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
	// request cap for multi-file history uploads
	historyLimit int64
}

func NewHTTPServer(deps Deps) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{deps: deps, logger: logger, validate: validator.New(), historyLimit: maxHistoryReq}
}

// Handler returns the routed handler with logging and identity applied.
func (s *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/cases", s.handleSubmit)
	api.HandleFunc("GET /api/cases", s.handleList)
	api.HandleFunc("GET /api/cases/{id}", s.handleGet)
	api.HandleFunc("GET /api/cases/{id}/status", s.handleStatus)
	api.HandleFunc("POST /api/cases/{id}/analyze", s.handleReanalyze)
	api.HandleFunc("GET /api/cases/{id}/export.xlsx", s.handleExport)
	api.HandleFunc("POST /api/analyze-case", s.handleStream)
	api.HandleFunc("POST /api/history", s.handleHistory)
	api.HandleFunc("GET /api/rules", s.handleListRules)
	api.HandleFunc("PUT /api/rules", s.handleUpsertRules)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/api/", requireIdentity(api))
	return withRequestLog(s.logger, root)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := repository.HealthCheck(r.Context(), s.deps.DB, healthTimeout, s.logger); err != nil {
			_ = WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	c, err := s.deps.Analysis.Submit(r.Context(), u)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, c)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit := analysis.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, s.logger, r, common.NewAppError("INVALID_LIMIT", "limit must be a positive integer", common.ErrInvalidInput))
			return
		}
		limit = n
	}
	cases, err := s.deps.Analysis.List(r.Context(), common.OrgIDFromContext(r.Context()), limit)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	if cases == nil {
		cases = []*entity.Case{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := caseID(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	c, err := s.deps.Analysis.Get(r.Context(), common.OrgIDFromContext(r.Context()), id)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, c)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := caseID(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	st, err := s.deps.Analysis.Status(r.Context(), common.OrgIDFromContext(r.Context()), id)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id, err := caseID(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	mode, err := queryMode(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	c, err := s.deps.Analysis.Reanalyze(r.Context(), common.OrgIDFromContext(r.Context()), id, mode)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusAccepted, c)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := caseID(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	mode, err := queryMode(r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	data, name, err := s.deps.Export.ExportCaseXLSX(r.Context(), common.OrgIDFromContext(r.Context()), id, mode)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	sink := newSSESink(w)
	if err := s.deps.Analysis.Stream(r.Context(), u, sink); err != nil {
		if !sink.started {
			WriteError(w, s.logger, r, err)
			return
		}
		// already reported to the client as an error event
		s.logger.Warn("http.stream.failed", "request_id", common.RequestIDFromContext(r.Context()), "err", err)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.historyLimit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, s.logger, r, formError(err, "Upload", s.historyLimit))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		WriteError(w, s.logger, r, common.NewAppError("NO_FILE", "No file provided", common.ErrInvalidInput))
		return
	}
	orgID := common.OrgIDFromContext(r.Context())
	results := make([]history.Result, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			results = append(results, history.Result{Success: false, Error: "Could not read file", Source: fh.Filename})
			continue
		}
		results = append(results, s.deps.History.ProcessOrder(r.Context(), orgID, fh.Filename, data))
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.ListByOrg(r.Context(), common.OrgIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	if rules == nil {
		rules = []*entity.InstitutionRule{}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type upsertRulesRequest struct {
	Rules []*entity.InstitutionRule `json:"rules" validate:"required,min=1,dive,required"`
}

func (s *HTTPServer) handleUpsertRules(w http.ResponseWriter, r *http.Request) {
	var req upsertRulesRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		WriteError(w, s.logger, r, common.NewAppError("VALIDATION_ERROR", err.Error(), common.ErrValidation))
		return
	}
	n, err := s.deps.Rules.Upsert(r.Context(), common.OrgIDFromContext(r.Context()), req.Rules)
	if err != nil {
		WriteError(w, s.logger, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

// readUpload parses a single-file multipart case upload.
func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) (analysis.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxCaseFileSize+formSlack)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return analysis.Upload{}, formError(err, "File", constants.MaxCaseFileSize)
	}
	defer r.MultipartForm.RemoveAll()

	mode, ok := constants.ParseMode(r.FormValue("mode"))
	if !ok {
		return analysis.Upload{}, invalidMode()
	}
	file, fh, err := r.FormFile("file")
	if err != nil {
		return analysis.Upload{}, common.NewAppError("NO_FILE", "No file provided", common.ErrInvalidInput)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return analysis.Upload{}, fmt.Errorf("read upload: %w", err)
	}

	ctx := r.Context()
	return analysis.Upload{
		OrgID:       common.OrgIDFromContext(ctx),
		UserID:      common.UserIDFromContext(ctx),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Title:       r.FormValue("title"),
		Mode:        mode,
		Data:        data,
	}, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formError maps a multipart parse failure. limit is the size reported back
// when the body was cut off.
func formError(err error, what string, limit int64) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("%s too large. Max size is %dMB", what, limit/1024/1024), common.ErrTooLarge)
	}
	return common.NewAppError("INVALID_FORM", "Invalid multipart form", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return common.NewAppError("INVALID_JSON", "Invalid JSON body", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
	}
	return nil
}

func caseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, common.NewAppError("INVALID_ID", "Invalid case id", common.ErrInvalidInput)
	}
	return id, nil
}

func queryMode(r *http.Request) (constants.AnalysisMode, error) {
	mode, ok := constants.ParseMode(r.URL.Query().Get("mode"))
	if !ok {
		return "", invalidMode()
	}
	return mode, nil
}

func invalidMode() error {
	return common.NewAppError("INVALID_MODE",
		fmt.Sprintf("mode must be %s or %s", constants.ModeDefault, constants.ModeWithParameters), common.ErrInvalidInput)
}

// Serve runs srv until ctx is cancelled, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.serve", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("http.stopped")
	return nil
}
