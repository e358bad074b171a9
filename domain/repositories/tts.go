package repositories

import "context"

type TextToSpeech interface {
	// SynthesizeSpeech returns a complete playable clip (WAV or MP3)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}
