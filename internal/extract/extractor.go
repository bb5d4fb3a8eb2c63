package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/procedo/internal/common"
)

// ErrNoText is returned when no strategy produced any text.
var ErrNoText = errors.New("could not extract text from PDF")

// ErrEncrypted is returned for password protected documents.
var ErrEncrypted = common.NewAppError("PDF_ENCRYPTED", "PDF is password protected", common.ErrInvalidInput)

// PageSeparator is written between pages.
const PageSeparator = "\f"

const (
	MethodNative    = "pdf-native"
	MethodPdftotext = "pdftotext"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	TempDir   string // where pdftotext input files are written; if empty -> os.TempDir()
}

type Result struct {
	Text      string
	Pages     int
	Method    string
	Encrypted bool
	Duration  time.Duration
	Warnings  []string
}

// TextExtractor turns PDF bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (Result, error)
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner used for the pdftotext fallback.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// Extract inspects the document with pdfcpu, reads text natively and falls back to pdftotext.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()
	res := Result{}
	if len(data) == 0 {
		return res, fmt.Errorf("%w: empty file", ErrNoText)
	}

	pages, encrypted, err := inspect(data)
	switch {
	case encrypted || needsPassword(err):
		res.Encrypted = true
		res.Duration = time.Since(start)
		e.logger.Warn("extract.encrypted", "elapsed_ms", res.Duration.Milliseconds())
		return res, ErrEncrypted
	case err != nil:
		// damaged structure is left to the text readers
		res.Warnings = append(res.Warnings, "inspect: "+err.Error())
		e.logger.Warn("extract.inspect.failed", "error", err)
	default:
		res.Pages = pages
	}

	text, pages, err := nativeText(data)
	if err == nil && !isBlank(text) {
		res.Text, res.Method = Normalize(text), MethodNative
		if res.Pages == 0 {
			res.Pages = pages
		}
		res.Duration = time.Since(start)
		e.logger.Info("extract.ok", "method", res.Method, "pages", res.Pages, "chars", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
		return res, nil
	}
	if err != nil {
		res.Warnings = append(res.Warnings, "native: "+err.Error())
	}

	text, pages, err = e.pdfToText(ctx, data)
	res.Duration = time.Since(start)
	if err != nil {
		res.Warnings = append(res.Warnings, "pdftotext: "+err.Error())
		e.logger.Error("extract.failed", "warnings", res.Warnings, "elapsed_ms", res.Duration.Milliseconds())
		return res, fmt.Errorf("%w: %v", ErrNoText, err)
	}
	if isBlank(text) {
		e.logger.Error("extract.empty", "warnings", res.Warnings, "elapsed_ms", res.Duration.Milliseconds())
		return res, ErrNoText
	}
	res.Text, res.Method = Normalize(text), MethodPdftotext
	if res.Pages == 0 {
		res.Pages = pages
	}
	e.logger.Info("extract.ok", "method", res.Method, "pages", res.Pages, "chars", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

// inspect validates the structure and reads the page count without decoding content streams.
func inspect(data []byte) (pages int, encrypted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return 0, false, err
	}
	if pdfCtx.Encrypt != nil {
		return 0, true, nil
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return 0, false, err
	}
	return pdfCtx.PageCount, false, nil
}

func needsPassword(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pdfcpu.ErrWrongPassword) || strings.Contains(err.Error(), "password")
}

func nativeText(data []byte) (text string, pages int, err error) {
	// the reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages = r.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if i > 1 {
			b.WriteString(PageSeparator)
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", pages, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(txt)
	}
	return b.String(), pages, nil
}

func (e *Extractor) pdfToText(ctx context.Context, data []byte) (string, int, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, "procedo-*.pdf")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", f.Name(), "-")
	if err != nil {
		if len(errb) > 0 {
			return "", 0, fmt.Errorf("%w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
		}
		return "", 0, err
	}
	text := strings.TrimSuffix(string(out), PageSeparator)
	// A form-feed \f is used as page separator by default
	return text, 1 + strings.Count(text, PageSeparator), nil
}
