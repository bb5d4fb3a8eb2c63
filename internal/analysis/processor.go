package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/async"
	"github.com/joseph-ayodele/procedo/internal/blob"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/recommend"
	"github.com/joseph-ayodele/procedo/internal/repository"
)

// expectedReportBytes is roughly the size of a complete tool input; progress
// during generation is linear in the bytes received up to this size.
const expectedReportBytes = 16000

const failureWriteTimeout = 10 * time.Second

// ContextBuilder loads the org context folded into analysis prompts.
type ContextBuilder interface {
	Build(ctx context.Context, orgID string) (*recommend.Context, error)
}

// Processor runs one analysis job: extract, build context, generate, parse, save.
type Processor struct {
	cases         repository.CaseRepository
	blobs         blob.Store
	extractor     extract.TextExtractor
	builder       ContextBuilder
	generator     llm.Generator
	params        *recommend.Parameters
	logger        *slog.Logger
	progressEvery time.Duration
}

func NewProcessor(
	cases repository.CaseRepository,
	blobs blob.Store,
	extractor extract.TextExtractor,
	builder ContextBuilder,
	generator llm.Generator,
	params *recommend.Parameters,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cases:         cases,
		blobs:         blobs,
		extractor:     extractor,
		builder:       builder,
		generator:     generator,
		params:        params,
		logger:        logger,
		progressEvery: time.Second,
	}
}

// WithProgressInterval sets how often generation progress is written.
func (p *Processor) WithProgressInterval(d time.Duration) *Processor {
	if d > 0 {
		p.progressEvery = d
	}
	return p
}

var _ async.Handler = (*Processor)(nil)

// Process runs the job and records any failure on the case row.
func (p *Processor) Process(ctx context.Context, job async.Job) error {
	start := time.Now()
	log := p.logger.With("case_id", job.CaseID, "org_id", job.OrgID, "trace_id", job.TraceID)
	log.Info("analysis.process.start", "mode", job.Mode)

	mode, err := p.run(ctx, job, log)
	if err != nil {
		p.fail(ctx, job.CaseID, err, log)
		log.Error("analysis.process.failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}

	log.Info("analysis.process.ok", "mode", mode, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) run(ctx context.Context, job async.Job, log *slog.Logger) (constants.AnalysisMode, error) {
	c, err := p.cases.Get(ctx, job.CaseID)
	if err != nil {
		return "", fmt.Errorf("load case: %w", err)
	}
	mode := job.Mode
	if mode == "" {
		mode = constants.AnalysisMode(c.AnalysisMode)
	}
	if err := p.cases.MarkProcessing(ctx, c.ID); err != nil {
		return mode, err
	}

	// 1) text
	if err := p.step(ctx, c.ID, constants.ProgressExtracting, constants.StepExtracting); err != nil {
		return mode, err
	}
	data, err := p.blobs.Get(ctx, c.FileURL)
	if err != nil {
		return mode, fmt.Errorf("load file: %w", err)
	}
	res, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return mode, err
	}
	log.Debug("analysis.extract.ok", "pages", res.Pages, "method", res.Method, "chars", len(res.Text))

	// 2) org context
	if err := p.step(ctx, c.ID, constants.ProgressContext, constants.StepContext); err != nil {
		return mode, err
	}
	orgCtx, err := p.builder.Build(ctx, c.OrgID)
	if err != nil {
		return mode, fmt.Errorf("load context: %w", err)
	}

	// 3) model call
	if err := p.step(ctx, c.ID, constants.ProgressGenerating, constants.StepGenerating); err != nil {
		return mode, err
	}
	prompt := recommend.BuildPrompt(mode, res.Text, orgCtx, p.params)

	var received atomic.Int64
	stop := p.watchProgress(ctx, c.ID, &received, log)
	gen, err := p.generator.Generate(ctx, prompt, func(fragment string) {
		received.Add(int64(len(fragment)))
	})
	stop()
	if err != nil {
		return mode, fmt.Errorf("generate: %w", err)
	}

	parsed, err := llm.ParseReport(gen.Raw)
	if err != nil {
		return mode, err
	}
	if parsed.Repaired || parsed.Partial {
		log.Warn("analysis.report.repaired",
			"stop_reason", gen.StopReason,
			"repaired", parsed.Repaired,
			"partial", parsed.Partial,
		)
	}
	if parsed.HasWarning() {
		log.Info("analysis.report.warning", "warning", parsed.Report.Warning)
	}

	// 4) persist
	if err := p.step(ctx, c.ID, constants.ProgressSaving, constants.StepSaving); err != nil {
		return mode, err
	}
	if err := p.cases.SaveRecommendations(ctx, c.ID, mode, parsed.Raw); err != nil {
		return mode, err
	}
	return mode, nil
}

func (p *Processor) step(ctx context.Context, id uuid.UUID, progress int, name string) error {
	if err := p.cases.UpdateProgress(ctx, id, progress, name); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// watchProgress periodically converts received bytes into progress. The
// returned func stops the watcher and waits for it to exit.
func (p *Processor) watchProgress(ctx context.Context, id uuid.UUID, received *atomic.Int64, log *slog.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.progressEvery)
		defer t.Stop()

		last := constants.ProgressGenerating
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				next := GenerationProgress(received.Load())
				if next <= last {
					continue
				}
				if err := p.cases.UpdateProgress(ctx, id, next, constants.StepGenerating); err != nil {
					log.Warn("analysis.progress.failed", "err", err)
					continue
				}
				last = next
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// GenerationProgress maps streamed bytes onto the generating range of the progress bar.
func GenerationProgress(bytes int64) int {
	span := int64(constants.ProgressGeneratingMax - constants.ProgressGenerating)
	p := int64(constants.ProgressGenerating) + bytes*span/expectedReportBytes
	if p > constants.ProgressGeneratingMax {
		return constants.ProgressGeneratingMax
	}
	if p < constants.ProgressGenerating {
		return constants.ProgressGenerating
	}
	return int(p)
}

func (p *Processor) fail(ctx context.Context, id uuid.UUID, cause error, log *slog.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := p.cases.MarkFailed(wctx, id, FailureMessage(cause)); err != nil {
		log.Error("analysis.fail.write_failed", "err", err)
	}
}

// FailureMessage is the text stored in error_message for a failed run.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrInvalidDocument), errors.Is(err, extract.ErrEncrypted):
		return common.PublicMessage(err)
	case errors.Is(err, extract.ErrNoText):
		return "Could not extract text from PDF"
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis timed out"
	}
	return err.Error()
}
