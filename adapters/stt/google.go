package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// ErrNoAudio is returned by End when a recording carried no samples
var ErrNoAudio = errors.New("no audio data received")

// GoogleSpeechToText implements SpeechToText with Google Cloud streaming
// recognition. Each recording gets its own client and stream.
type GoogleSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the adapter. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

// InitTranscribeStreaming opens a recognition stream and sends its config
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	// The stream outlives the caller's setup context.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	client, err := speech.NewClient(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		client: client,
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: g.logger,
	}
	go s.receiveResults()

	return s, nil
}

// GoogleSpeechToTextStream is one recording's recognition stream
type GoogleSpeechToTextStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	mu            sync.Mutex
	audioReceived bool

	// set by receiveResults before done is closed
	segments []string
	err      error
	done     chan struct{}

	logger *zap.Logger
}

// Stream sends one chunk of audio
func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	g.audioReceived = true
	g.mu.Unlock()

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End closes the audio side and waits for the final transcript
func (g *GoogleSpeechToTextStream) End() (string, error) {
	defer g.cleanup()

	g.mu.Lock()
	received := g.audioReceived
	g.mu.Unlock()
	if !received {
		return "", ErrNoAudio
	}

	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	<-g.done
	if g.err != nil {
		return "", g.err
	}
	return strings.Join(g.segments, " "), nil
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.done)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.err = fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				g.segments = append(g.segments, strings.TrimSpace(result.Alternatives[0].Transcript))
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) cleanup() {
	g.cancel()
	if err := g.client.Close(); err != nil {
		g.logger.Warn("Failed to close speech client", zap.Error(err))
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
