package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/travelbuddy/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.9
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 20
	maxAttempts           = 3

	systemPrompt = "You are TravelBuddy, a friendly Kerala travel assistant. " +
		"Answer in plain text without markdown, in at most three short sentences, " +
		"because replies are read aloud."
)

// GeminiConfig holds configuration for the GeminiAssistant adapter.
// APIKey is required, everything else falls back to a default.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// GeminiAssistant implements LanguageModel using Google's Gemini API
type GeminiAssistant struct {
	client          *genai.Client
	model           string
	temperature     float32
	topP            float32
	maxOutputTokens int
	timeout         time.Duration
	logger          *zap.Logger
}

var _ repositories.LanguageModel = (*GeminiAssistant)(nil)

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}
	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", config.MaxOutputTokens)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// NewGeminiAssistant creates a Gemini client for short travel replies
func NewGeminiAssistant(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiAssistant, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	assistant := &GeminiAssistant{
		client:          client,
		model:           config.Model,
		temperature:     config.Temperature,
		topP:            config.TopP,
		maxOutputTokens: config.MaxOutputTokens,
		timeout:         time.Duration(config.TimeoutSeconds) * time.Second,
		logger:          logger,
	}
	if assistant.model == "" {
		assistant.model = defaultModel
	}
	if assistant.temperature == 0 {
		assistant.temperature = defaultTemperature
	}
	if assistant.topP == 0 {
		assistant.topP = defaultTopP
	}
	if assistant.maxOutputTokens == 0 {
		assistant.maxOutputTokens = defaultMaxTokens
	}
	if assistant.timeout == 0 {
		assistant.timeout = defaultTimeoutSeconds * time.Second
	}

	logger.Info("Gemini assistant ready", zap.String("model", assistant.model))
	return assistant, nil
}

// Generate implements repositories.LanguageModel
func (g *GeminiAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		TopP:              genai.Ptr(g.topP),
		MaxOutputTokens:   int32(g.maxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		response *genai.GenerateContentResponse
		err      error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil || ctx.Err() != nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := responseText(response)
	if text == "" {
		return "", errors.New("gemini returned no text")
	}

	g.logger.Debug("Generated reply",
		zap.Int("promptLength", len(prompt)),
		zap.Int("replyLength", len(text)))
	return text, nil
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
