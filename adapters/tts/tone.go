package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/adapters/audio"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

const (
	toneFrequency   = 523.25 // C5
	toneSecsPerWord = 0.08
	toneMinSecs     = 0.3
	toneMaxSecs     = 3.0
)

// ToneTextToSpeech stands in for a voice on the development backend: every
// reply becomes a WAV beep whose length follows the word count.
type ToneTextToSpeech struct {
	format repositories.AudioFormat
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*ToneTextToSpeech)(nil)

// NewToneTextToSpeech creates a tone generator producing 16kHz mono clips
func NewToneTextToSpeech(logger *zap.Logger) *ToneTextToSpeech {
	return &ToneTextToSpeech{format: audio.DefaultFormat, logger: logger}
}

// SynthesizeSpeech implements repositories.TextToSpeech
func (t *ToneTextToSpeech) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("text cannot be empty")
	}

	secs := float64(words) * toneSecsPerWord
	if secs < toneMinSecs {
		secs = toneMinSecs
	}
	if secs > toneMaxSecs {
		secs = toneMaxSecs
	}

	clip, err := audio.EncodeWAV(audio.SineTone(toneFrequency, secs, t.format.SampleRate), t.format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tone: %w", err)
	}

	t.logger.Debug("Synthesized tone",
		zap.Int("words", words),
		zap.Float64("seconds", secs),
		zap.Int("audioSize", len(clip)))
	return clip, nil
}
