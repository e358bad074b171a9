package repositories

import "context"

// SpeechToText opens one transcription stream per recording
type SpeechToText interface {
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig describes the PCM a recording carries and the language to
// recognise
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// SpeechToTextStreaming receives the audio of one recording. End closes the
// stream and returns the whole transcript, which may be empty.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (string, error)
}
