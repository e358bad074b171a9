package repositories

import "context"

// LanguageModel abstracts any text generation provider
type LanguageModel interface {
	// Generate takes a prompt and returns the model's reply
	Generate(ctx context.Context, prompt string) (string, error)
}
