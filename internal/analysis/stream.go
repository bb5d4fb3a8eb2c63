package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/procedo/constants"
	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/extract"
	"github.com/joseph-ayodele/procedo/internal/llm"
	"github.com/joseph-ayodele/procedo/internal/recommend"
)

// Stream event names.
const (
	EventStart  = "start"
	EventDelta  = "delta"
	EventReport = "report"
	EventError  = "error"
)

// Sink receives stream events. Implementations decide the wire format.
type Sink interface {
	Send(event string, data any) error
}

// Stream analyzes an upload synchronously and forwards model output to sink
// as it arrives. Nothing is persisted. Errors before the first event are
// returned without touching sink.
func (s *Service) Stream(ctx context.Context, u Upload, sink Sink) error {
	start := time.Now()
	if err := u.Validate(constants.MaxCaseFileSize); err != nil {
		return err
	}
	mode := u.Mode
	if mode == "" {
		mode = constants.ModeDefault
	}

	res, err := s.extractor.Extract(ctx, u.Data)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrEncrypted):
			return err
		case errors.Is(err, extract.ErrNoText):
			return common.NewAppError("NO_TEXT", "Could not extract text from PDF", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
		}
		return err
	}
	orgCtx, err := s.builder.Build(ctx, u.OrgID)
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}
	prompt := recommend.BuildPrompt(mode, res.Text, orgCtx, s.params)

	if err := sink.Send(EventStart, map[string]any{"pages": res.Pages, "mode": mode}); err != nil {
		return err
	}

	gen, err := s.generator.Generate(ctx, prompt, func(fragment string) {
		_ = sink.Send(EventDelta, fragment)
	})
	if err != nil {
		s.logger.Error("analysis.stream.failed", "org_id", u.OrgID, "err", err)
		_ = sink.Send(EventError, map[string]string{"error": "Analysis failed"})
		return err
	}

	parsed, err := llm.ParseReport(gen.Raw)
	if err != nil {
		_ = sink.Send(EventError, map[string]string{"error": common.PublicMessage(err)})
		return err
	}

	s.logger.Info("analysis.stream.ok",
		"org_id", u.OrgID,
		"mode", mode,
		"repaired", parsed.Repaired,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sink.Send(EventReport, parsed.Raw)
}
