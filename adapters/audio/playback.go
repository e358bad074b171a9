package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// DefaultPlaybackTimeout caps how long a single clip may play
const DefaultPlaybackTimeout = 2 * time.Minute

// Playback decodes audio payloads and plays each one once on a speaker.
// Plays are not serialised, so clips may overlap.
type Playback struct {
	speaker repositories.Speaker
	timeout time.Duration
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewPlayback creates a playback on speaker
func NewPlayback(speaker repositories.Speaker, logger *zap.Logger) *Playback {
	return &Playback{speaker: speaker, timeout: DefaultPlaybackTimeout, logger: logger}
}

// Play decodes and plays payload in its own goroutine and reports the
// outcome to done, which may be nil. Malformed payloads yield a
// *domain.DecodeError.
func (p *Playback) Play(payload string, done func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.play(payload)
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every started clip has finished
func (p *Playback) Wait() {
	p.wg.Wait()
}

func (p *Playback) play(payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.DeviceError{Op: "play", Err: fmt.Errorf("speaker panicked: %v", r)}
		}
	}()

	clip, err := DecodeClip(payload)
	if err != nil {
		p.logger.Warn("Dropping malformed audio payload", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	started := time.Now()
	if err := p.speaker.Play(ctx, clip); err != nil {
		p.logger.Error("Playback failed",
			zap.String("contentType", clip.ContentType),
			zap.Error(err))
		return err
	}

	p.logger.Info("Played audio response",
		zap.String("contentType", clip.ContentType),
		zap.Int("size", len(clip.Data)),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// DecodeClip turns a base64 payload into a playable clip
func DecodeClip(payload string) (repositories.Clip, error) {
	if payload == "" {
		return repositories.Clip{}, &domain.DecodeError{Type: "audio_response", Err: fmt.Errorf("empty audio payload")}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return repositories.Clip{}, &domain.DecodeError{Type: "audio_response", Err: fmt.Errorf("invalid base64 audio: %w", err)}
	}
	if len(data) == 0 {
		return repositories.Clip{}, &domain.DecodeError{Type: "audio_response", Err: fmt.Errorf("empty audio payload")}
	}
	return repositories.Clip{Data: data, ContentType: sniffContentType(data)}, nil
}

func sniffContentType(data []byte) string {
	switch {
	case IsWAV(data):
		return "audio/wav"
	case IsMP3(data):
		return "audio/mpeg"
	default:
		return http.DetectContentType(data)
	}
}

// FileSpeaker saves each clip into a directory instead of playing it
type FileSpeaker struct {
	Dir    string
	logger *zap.Logger

	mu  sync.Mutex
	seq int
}

// NewFileSpeaker creates a speaker writing clips into dir
func NewFileSpeaker(dir string, logger *zap.Logger) *FileSpeaker {
	return &FileSpeaker{Dir: dir, logger: logger}
}

// Play implements repositories.Speaker
func (s *FileSpeaker) Play(ctx context.Context, clip repositories.Clip) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return &domain.DeviceError{Op: "play", Err: fmt.Errorf("create audio response directory: %w", err)}
	}

	s.mu.Lock()
	s.seq++
	name := fmt.Sprintf("%d_%03d%s", time.Now().Unix(), s.seq, extensionFor(clip.ContentType))
	s.mu.Unlock()

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, clip.Data, 0644); err != nil {
		return &domain.DeviceError{Op: "play", Err: fmt.Errorf("write audio response file: %w", err)}
	}

	s.logger.Info("Saved audio response", zap.String("path", path))
	return nil
}

// CommandSpeaker pipes each clip into an external player such as
// "ffplay -nodisp -autoexit -"
type CommandSpeaker struct {
	Command []string
}

// Play implements repositories.Speaker
func (s CommandSpeaker) Play(ctx context.Context, clip repositories.Clip) error {
	if len(s.Command) == 0 {
		return &domain.DeviceError{Op: "play", Err: fmt.Errorf("no player command configured")}
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Stdin = bytes.NewReader(clip.Data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &domain.DeviceError{Op: "play", Err: fmt.Errorf("%s: %w: %s", s.Command[0], err, bytes.TrimSpace(stderr.Bytes()))}
	}
	return nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}
