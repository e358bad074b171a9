package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// MockSpeechToText stands in for a recognizer on the development backend.
// The transcript depends only on how much audio a recording carried, so a
// client can steer it by recording length.
type MockSpeechToText struct {
	logger *zap.Logger
}

// MockSpeechToTextStream accumulates audio for one recording
type MockSpeechToTextStream struct {
	mu         sync.Mutex
	bytes      int
	bytesPerMs int
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Debug("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MockSpeechToTextStream{
		// 16-bit mono
		bytesPerMs: sampleRate * 2 / 1000,
		logger:     s.logger,
	}, nil
}

// Stream implements repositories.SpeechToTextStreaming
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += len(data)
	return nil
}

// End returns a canned transcript chosen by recording length. A recording
// without audio yields an empty transcript.
func (m *MockSpeechToTextStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := 0
	if m.bytesPerMs > 0 {
		ms = m.bytes / m.bytesPerMs
	}

	var transcript string
	switch {
	case m.bytes == 0:
		transcript = ""
	case ms >= 3000:
		transcript = "plan a 3 day trip to Munnar"
	case ms >= 1500:
		transcript = "what should I see in Alleppey"
	case ms >= 500:
		transcript = "find me a hotel in Kochi"
	default:
		transcript = "hello"
	}

	m.logger.Debug("Ending mock transcription stream",
		zap.Int("bytes", m.bytes),
		zap.Int("durationMs", ms),
		zap.String("result", transcript))
	return transcript, nil
}
