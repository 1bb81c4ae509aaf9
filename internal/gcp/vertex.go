package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/pdfwordflow/internal/reformat"
)

// GeminiConfig selects and tunes the reformatting model.
type GeminiConfig struct {
	ProjectID    string
	Region       string
	Model        string
	SystemPrompt string
	Temperature  float32
}

// GeminiGenerator sends one text prompt to a Gemini model on Vertex AI.
type GeminiGenerator struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewGeminiGenerator creates the client and configures the model once.
func NewGeminiGenerator(ctx context.Context, config GeminiConfig) (*GeminiGenerator, error) {
	if config.ProjectID == "" || config.Region == "" {
		return nil, fmt.Errorf("NewGeminiGenerator: projectID and region cannot be empty")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("NewGeminiGenerator: model cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, config.ProjectID, config.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(config.Model)
	if config.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(config.SystemPrompt)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](config.Temperature),
	}
	// Safety filters are off for user document content.
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &GeminiGenerator{model: model, baseClient: baseClient}, nil
}

// Generate returns the concatenated text of the first candidate. A blocked prompt
// or a candidate stopped by a content filter yields reformat.ErrRefusal.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", reformat.ErrRefusal, blocked)
		}
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	if err := checkBlocked(resp); err != nil {
		return "", err
	}
	return ResponseText(resp), nil
}

// checkBlocked reports a refusal signalled by the response metadata rather than its text.
func checkBlocked(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockedReasonUnspecified {
		return fmt.Errorf("%w: prompt blocked (%v)", reformat.ErrRefusal, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	switch reason := resp.Candidates[0].FinishReason; reason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return fmt.Errorf("%w: generation stopped (%v)", reformat.ErrRefusal, reason)
	}
	return nil
}

// ResponseText joins the text parts of the first candidate. Non-text parts are skipped
// and the text is not trimmed.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var contentBuilder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			contentBuilder.WriteString(string(txt))
		}
	}
	return contentBuilder.String()
}

func (g *GeminiGenerator) Close() error {
	if g.baseClient != nil {
		return g.baseClient.Close()
	}
	return nil
}
