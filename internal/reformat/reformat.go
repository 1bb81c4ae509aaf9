// Package reformat sends extracted PDF text to a hosted text-generation model
// and returns the restructured text.
package reformat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

var (
	// ErrEmptyResponse is returned when the model produced no usable text.
	ErrEmptyResponse = errors.New("model returned no usable text")
	// ErrRefusal is returned by a Generator whose model declined the task.
	ErrRefusal = errors.New("model response indicates refusal")
)

// FallbackText replaces an empty model response under EmptyResponseFallback.
const FallbackText = "Không thể xử lý nội dung văn bản."

// EmptyResponsePolicy decides what an empty model response means.
type EmptyResponsePolicy string

const (
	EmptyResponseFail     EmptyResponsePolicy = "fail"
	EmptyResponseFallback EmptyResponsePolicy = "fallback"
)

// backoffBase is the first retry delay. Tests shorten it.
var backoffBase = 2 * time.Second

// Generator is a hosted text-generation capability: one prompt in, one text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config holds the reformatting settings.
type Config struct {
	PageMarker    string
	MaxChars      int
	Timeout       time.Duration
	MaxRetries    int
	EmptyResponse EmptyResponsePolicy
	// RequestsPerMinute throttles model calls made through one Reformatter; 0 disables it.
	RequestsPerMinute int
	// Retryable reports whether a failed attempt is worth repeating. Nil retries every error.
	Retryable func(error) bool
}

// DefaultConfig returns the production reformatting settings.
func DefaultConfig() Config {
	return Config{
		PageMarker:    DefaultPageMarker,
		MaxChars:      DefaultMaxChars,
		Timeout:       2 * time.Minute,
		MaxRetries:    3,
		EmptyResponse: EmptyResponseFail,
	}
}

// Reformatter restructures extracted pages with a Generator.
type Reformatter struct {
	gen     Generator
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Reformatter. Zero-valued settings fall back to DefaultConfig.
func New(gen Generator, config Config, logger *slog.Logger) *Reformatter {
	defaults := DefaultConfig()
	if config.PageMarker == "" {
		config.PageMarker = defaults.PageMarker
	}
	if config.MaxChars == 0 {
		config.MaxChars = defaults.MaxChars
	}
	if config.EmptyResponse == "" {
		config.EmptyResponse = defaults.EmptyResponse
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reformatter{gen: gen, config: config, logger: logger}
	if config.RequestsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60), 1)
	}
	return r
}

// Reformat sends the pages in one request and returns the model's text verbatim.
// Transient failures are retried with exponential backoff.
func (r *Reformatter) Reformat(ctx context.Context, pages []models.ExtractedPage) (string, error) {
	prompt := BuildPrompt(pages, r.config.PageMarker, r.config.MaxChars)
	logCtx := r.logger.With("pageCount", len(pages), "promptChars", len(prompt))

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			logCtx.Warn("Reformatting failed, will retry.", "attempt", attempt, "maxRetries", r.config.MaxRetries, "backoff", backoff.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := r.generate(ctx, prompt)
		if err == nil {
			return r.checkResponse(logCtx, text)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if r.config.Retryable != nil && !r.config.Retryable(err) {
			break
		}
	}
	logCtx.Error("Reformatting failed after all retries.", "error", lastErr)
	return "", fmt.Errorf("failed to reformat text: %w", lastErr)
}

func (r *Reformatter) generate(ctx context.Context, prompt string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}
	return r.gen.Generate(ctx, prompt)
}

func (r *Reformatter) checkResponse(logCtx *slog.Logger, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		if r.config.EmptyResponse == EmptyResponseFallback {
			logCtx.Warn("Model returned no text. Using fallback text.")
			return FallbackText, nil
		}
		return "", ErrEmptyResponse
	}
	return text, nil
}
