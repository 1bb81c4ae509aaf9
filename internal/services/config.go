package services

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/pdfwordflow/internal/gcp"
	"github.com/Lllllllleong/pdfwordflow/internal/reformat"
)

const (
	defaultModel          = "gemini-2.5-flash"
	defaultMaxUploadBytes = 10 << 20
	defaultDownloadURLTTL = 15 * time.Minute
	defaultTemperature    = 0.2
)

// ConverterConfig holds configuration for the conversion functions.
type ConverterConfig struct {
	ProjectID        string
	VertexAIRegion   string
	GeminiModel      string
	Temperature      float32
	ResultsBucket    string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	MaxUploadBytes   int64
	Reformat         reformat.Config
}

// StatusConfig holds configuration for the job-status function.
type StatusConfig struct {
	ProjectID      string
	CollectionName string
	DownloadURLTTL time.Duration
}

func loadConverterConfig() (ConverterConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return ConverterConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := ConverterConfig{
		ProjectID:        projectID,
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		GeminiModel:      gcp.GetEnv("GEMINI_MODEL", defaultModel),
		Temperature:      defaultTemperature,
		ResultsBucket:    gcp.GetEnv("RESULTS_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "conversions"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		Reformat:         reformat.DefaultConfig(),
	}
	if config.ResultsBucket == "" {
		return ConverterConfig{}, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}

	maxUpload, err := gcp.GetEnvInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	if err != nil {
		return ConverterConfig{}, err
	}
	if maxUpload <= 0 {
		return ConverterConfig{}, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	config.MaxUploadBytes = int64(maxUpload)

	if config.Reformat.MaxChars, err = gcp.GetEnvInt("MAX_PROMPT_CHARS", reformat.DefaultMaxChars); err != nil {
		return ConverterConfig{}, err
	}
	if config.Reformat.MaxRetries, err = gcp.GetEnvInt("REFORMAT_MAX_RETRIES", config.Reformat.MaxRetries); err != nil {
		return ConverterConfig{}, err
	}
	if config.Reformat.RequestsPerMinute, err = gcp.GetEnvInt("REFORMAT_RPM", 0); err != nil {
		return ConverterConfig{}, err
	}
	if config.Reformat.Timeout, err = gcp.GetEnvDuration("REFORMAT_TIMEOUT", config.Reformat.Timeout); err != nil {
		return ConverterConfig{}, err
	}
	config.Reformat.PageMarker = gcp.GetEnv("PAGE_MARKER", reformat.DefaultPageMarker)
	config.Reformat.Retryable = gcp.IsTransient

	policy := reformat.EmptyResponsePolicy(gcp.GetEnv("EMPTY_RESPONSE_POLICY", string(reformat.EmptyResponseFail)))
	switch policy {
	case reformat.EmptyResponseFail, reformat.EmptyResponseFallback:
		config.Reformat.EmptyResponse = policy
	default:
		return ConverterConfig{}, fmt.Errorf("EMPTY_RESPONSE_POLICY must be %q or %q, got %q", reformat.EmptyResponseFail, reformat.EmptyResponseFallback, policy)
	}

	return config, nil
}

func loadStatusConfig() (StatusConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return StatusConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	ttl, err := gcp.GetEnvDuration("DOWNLOAD_URL_TTL", defaultDownloadURLTTL)
	if err != nil {
		return StatusConfig{}, err
	}
	return StatusConfig{
		ProjectID:      projectID,
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "conversions"),
		DownloadURLTTL: ttl,
	}, nil
}
