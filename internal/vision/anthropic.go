package vision

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/axisfab/forecast-ingest/internal/model"
	"github.com/axisfab/forecast-ingest/internal/resilience"
	"github.com/axisfab/forecast-ingest/pkg/anthropic"
)

const analyzeSystemPrompt = `You read rendered spreadsheet grids containing production forecasts.
Extract every forecast data point you can see. Respond with a single JSON object:
{"records":[{"model":"...","process":"...","period":"YYYY-MM-DD","quantity":123}],"confidence":0.0,"notes":"..."}
Quantities are positive integers. Period is the forecast date. Confidence is your
overall confidence in the extraction between 0 and 1. No prose outside the JSON.`

const verifySystemPrompt = `You check extracted forecast records against a rendered spreadsheet grid.
Respond with a single JSON object:
{"valid":true,"confidence":0.0,"errors":["..."],"corrections":[{"model":"...","process":"...","period":"YYYY-MM-DD","quantity":123}]}
Set valid=false and list errors when the records disagree with the grid; include
corrections only when you can read the right values. No prose outside the JSON.`

// Config tunes the Anthropic-backed capability.
type Config struct {
	Model             string
	MaxTokens         int64
	Timeout           time.Duration
	RequestsPerMinute int
}

// DefaultConfig returns conservative settings for the vision client.
func DefaultConfig() Config {
	return Config{
		Model:             "claude-sonnet-4-5-20250929",
		MaxTokens:         4096,
		Timeout:           60 * time.Second,
		RequestsPerMinute: 20,
	}
}

// AnthropicCapability implements Capability against the Anthropic messages
// API with a rate limiter, an enforced per-call timeout, and transient-error
// retries.
type AnthropicCapability struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// NewAnthropic builds the capability. A nil logger falls back to the global.
func NewAnthropic(client anthropic.Client, cfg Config, log *zap.Logger) *AnthropicCapability {
	if log == nil {
		log = zap.L()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultConfig().RequestsPerMinute
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "vision")

	return &AnthropicCapability{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		retry:   retry,
		log:     log,
	}
}

// Analyze requests a full extraction of the rendered document.
func (c *AnthropicCapability) Analyze(ctx context.Context, png []byte) (*AnalysisResult, error) {
	resp, err := c.call(ctx, "vision_analyze", anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(analyzeSystemPrompt),
		Messages: []anthropic.Message{{
			Role:   "user",
			Text:   "Extract all forecast records from this spreadsheet.",
			Images: []anthropic.Image{{MediaType: "image/png", Data: png}},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "vision: analyze")
	}
	return DecodeAnalysis(resp.Text()), nil
}

// Verify checks extracted records against the rendered document.
func (c *AnthropicCapability) Verify(ctx context.Context, records []model.ExtractedRecord, png []byte) (*VerifyResult, error) {
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, eris.Wrap(err, "vision: marshal records")
	}

	resp, err := c.call(ctx, "vision_verify", anthropic.MessageRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(verifySystemPrompt),
		Messages: []anthropic.Message{{
			Role:   "user",
			Text:   "Check these extracted records against the grid:\n" + string(recordsJSON),
			Images: []anthropic.Image{{MediaType: "image/png", Data: png}},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "vision: verify")
	}
	return DecodeVerify(resp.Text()), nil
}

func (c *AnthropicCapability) call(ctx context.Context, phase string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vision: rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("vision call complete",
		zap.String("phase", phase),
		zap.Duration("latency", time.Since(start)))
	resp.Usage.LogCost(c.cfg.Model, phase)
	return resp, nil
}
