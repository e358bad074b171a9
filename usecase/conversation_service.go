package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// Turn is the backend's answer to one finished recording
type Turn struct {
	Transcript string
	Reply      domain.ChatResponse
	// Audio is a playable clip of Reply.Message, nil when synthesis failed
	Audio []byte
}

// ConversationService orchestrates the voice flow: speech to text, the
// chat reply, then text to speech
type ConversationService struct {
	speechToText repositories.SpeechToText
	textToSpeech repositories.TextToSpeech
	chatService  *ChatService
	audioConfig  repositories.AudioConfig
	logger       *zap.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	chatService *ChatService,
	audioConfig repositories.AudioConfig,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		speechToText: stt,
		textToSpeech: tts,
		chatService:  chatService,
		audioConfig:  audioConfig,
		logger:       logger,
	}
}

// BeginUtterance opens a streaming transcription for one recording
func (s *ConversationService) BeginUtterance(ctx context.Context, userID string) (repositories.SpeechToTextStreaming, error) {
	stream, err := s.speechToText.InitTranscribeStreaming(ctx, s.audioConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transcription: %w", err)
	}

	s.logger.Info("Utterance started",
		zap.String("userID", userID),
		zap.Int("sampleRate", s.audioConfig.SampleRate),
		zap.String("language", s.audioConfig.Language))

	return stream, nil
}

// CompleteUtterance closes the transcription and answers it. A failed
// synthesis still returns the text reply.
func (s *ConversationService) CompleteUtterance(ctx context.Context, userID string, stream repositories.SpeechToTextStreaming) (Turn, error) {
	started := time.Now()

	transcript, err := stream.End()
	if err != nil {
		return Turn{}, fmt.Errorf("transcription failed: %w", err)
	}
	transcript = strings.TrimSpace(transcript)

	s.logger.Info("Transcription completed",
		zap.String("userID", userID),
		zap.String("transcription", transcript))

	turn := Turn{Transcript: transcript}
	if transcript == "" {
		turn.Reply = domain.ChatResponse{
			Message: "Sorry, I didn't catch that. Could you say it again?",
			Intent:  IntentOther,
			Status:  &domain.ReplyStatus{Success: true},
		}
	} else {
		// Reply never leaves the message empty, so its error is only logged.
		turn.Reply, _ = s.chatService.Reply(ctx, domain.ChatRequest{Message: transcript, UserID: userID})
	}

	audio, err := s.textToSpeech.SynthesizeSpeech(ctx, turn.Reply.Message)
	if err != nil {
		s.logger.Warn("TTS generation failed",
			zap.String("userID", userID),
			zap.Error(err))
	} else {
		turn.Audio = audio
	}

	s.logger.Info("Utterance answered",
		zap.String("userID", userID),
		zap.String("intent", turn.Reply.Intent),
		zap.Int("audioSize", len(turn.Audio)),
		zap.Duration("elapsed", time.Since(started)))

	return turn, nil
}

// Chat answers a typed message
func (s *ConversationService) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	return s.chatService.Reply(ctx, req)
}
