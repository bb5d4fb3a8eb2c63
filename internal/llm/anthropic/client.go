package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/internal/llm"
)

var (
	_ llm.Generator      = (*Client)(nil)
	_ llm.OrderExtractor = (*Client)(nil)
)

// ErrEmptyResponse is returned when the model produced neither a tool call nor text.
var ErrEmptyResponse = errors.New("model returned no content")

// Generate streams an analysis with the report tool forced. Tool input fragments are passed to
// onDelta as they arrive; text fragments are passed too, for models that answer in prose.
func (c *Client) Generate(ctx context.Context, p llm.Prompt, onDelta llm.DeltaFunc) (*llm.Generation, error) {
	rid := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.log.Info("llm.generate.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"max_tokens", c.cfg.MaxTokens,
		"system_len", len(p.System),
		"user_len", len(p.User),
	)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: p.System}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(p.User)),
		},
		Tools: []sdk.ToolUnionParam{{OfTool: &sdk.ToolParam{
			Name:        llm.AnalysisToolName,
			Description: sdk.String(llm.AnalysisToolDescription),
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: llm.AnalysisToolProperties(),
				Required:   llm.AnalysisToolRequired,
			},
		}}},
		ToolChoice: sdk.ToolChoiceUnionParam{OfTool: &sdk.ToolChoiceToolParam{Name: llm.AnalysisToolName}},
	}

	stream := c.api.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var (
		toolBuf, textBuf strings.Builder
		inTool, toolUsed bool
		out              = &llm.Generation{Model: c.cfg.Model}
	)
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			if ev.Message.Model != "" {
				out.Model = string(ev.Message.Model)
			}
		case sdk.ContentBlockStartEvent:
			inTool = ev.ContentBlock.Type == "tool_use" && ev.ContentBlock.Name == llm.AnalysisToolName
			if inTool {
				toolUsed = true
			}
		case sdk.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case sdk.InputJSONDelta:
				if inTool && d.PartialJSON != "" {
					toolBuf.WriteString(d.PartialJSON)
					emit(onDelta, d.PartialJSON)
				}
			case sdk.TextDelta:
				if d.Text != "" {
					textBuf.WriteString(d.Text)
					emit(onDelta, d.Text)
				}
			}
		case sdk.ContentBlockStopEvent:
			inTool = false
		case sdk.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				out.StopReason = string(ev.Delta.StopReason)
			}
		}
	}
	out.Elapsed = time.Since(start)

	if err := stream.Err(); err != nil {
		c.log.Error("llm.generate.stream_error",
			"req_id", rid, "error", err,
			"received_bytes", toolBuf.Len()+textBuf.Len(),
			"elapsed_ms", out.Elapsed.Milliseconds(),
		)
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	out.ToolUsed = toolUsed && toolBuf.Len() > 0
	if out.ToolUsed {
		out.Raw = toolBuf.String()
	} else {
		out.Raw = textBuf.String()
	}
	if strings.TrimSpace(out.Raw) == "" {
		c.log.Error("llm.generate.empty", "req_id", rid, "stop_reason", out.StopReason, "elapsed_ms", out.Elapsed.Milliseconds())
		return nil, ErrEmptyResponse
	}
	if out.StopReason == string(sdk.StopReasonMaxTokens) {
		c.log.Warn("llm.generate.truncated", "req_id", rid, "max_tokens", c.cfg.MaxTokens)
	}

	c.log.Info("llm.generate.ok",
		"req_id", rid,
		"model", out.Model,
		"tool_used", out.ToolUsed,
		"stop_reason", out.StopReason,
		"raw_bytes", len(out.Raw),
		"elapsed_ms", out.Elapsed.Milliseconds(),
	)
	return out, nil
}

// ExtractOrder asks the extraction model for the structured form of a historical order.
func (c *Client) ExtractOrder(ctx context.Context, text string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	p := llm.BuildOrderExtractionPrompt(text)
	c.log.Info("llm.extract_order.start", "req_id", rid, "model", c.cfg.ExtractModel, "text_len", len(text))

	resp, err := c.api.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.ExtractModel),
		MaxTokens: extractMaxTokens,
		System:    []sdk.TextBlockParam{{Text: p.System}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(p.User)),
		},
	})
	if err != nil {
		c.log.Error("llm.extract_order.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	if len(resp.Content) == 0 || resp.Content[0].Type != "text" {
		c.log.Error("llm.extract_order.unexpected_content", "req_id", rid, "blocks", len(resp.Content))
		return "", fmt.Errorf("unexpected response from model: %w", ErrEmptyResponse)
	}
	raw := resp.Content[0].Text

	c.log.Info("llm.extract_order.ok",
		"req_id", rid,
		"model", string(resp.Model),
		"stop_reason", string(resp.StopReason),
		"raw_bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return raw, nil
}

// emit forwards a fragment when a callback is set.
func emit(fn llm.DeltaFunc, s string) {
	if fn == nil {
		return
	}
	fn(s)
}
