package repositories

import (
	"context"
	"io"
	"time"
)

// AudioFormat describes raw PCM produced by a microphone
type AudioFormat struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// BytesPerSecond returns the PCM byte rate of the format
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// AudioChunk is one time slice of captured audio. Seq is the capture order
// within a single recording, starting at zero.
type AudioChunk struct {
	Seq        int
	Data       []byte
	CapturedAt time.Time
}

// Microphone is an audio input device. Open acquires the device exclusively
// until the returned reader is closed.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, AudioFormat, error)
}

// AudioCapture turns a microphone into a stream of fixed-interval chunks
type AudioCapture interface {
	// Start acquires the device and begins emitting chunks. The channel is
	// closed after Stop.
	Start(ctx context.Context) (<-chan AudioChunk, error)
	// Stop releases the device. It is safe to call at any time.
	Stop()
}

// Clip is a decoded audio payload ready to be played
type Clip struct {
	Data        []byte
	ContentType string
}

// Speaker is an audio output device
type Speaker interface {
	Play(ctx context.Context, clip Clip) error
}

// AudioPlayback plays base64 payloads delivered by the backend. done is
// called exactly once, from another goroutine, with the playback result.
type AudioPlayback interface {
	Play(payload string, done func(error))
}
