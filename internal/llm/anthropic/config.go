package anthropic

import (
	"log/slog"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// Config for the Anthropic client.
type Config struct {
	APIKey       string        // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL      string        // optional override, used by tests and proxies
	Model        string        // analysis model
	ExtractModel string        // history extraction model
	MaxTokens    int64         // analysis max_tokens
	Timeout      time.Duration // per call
	RPS          float64       // calls per second across the process; 0 disables limiting
	MaxRetries   int
}

const (
	defaultModel        = "claude-opus-4-5-20251101"
	defaultExtractModel = "claude-sonnet-4-5"
	defaultMaxTokens    = 12000
	extractMaxTokens    = 4096
	defaultTimeout      = 5 * time.Minute
)

type Client struct {
	cfg     Config
	api     sdk.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ExtractModel == "" {
		cfg.ExtractModel = defaultExtractModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		cfg:     cfg,
		api:     sdk.NewClient(opts...),
		limiter: limiter,
		log:     logger,
	}
}
