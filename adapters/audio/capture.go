// Package audio implements microphone capture, chunking and playback of
// the audio exchanged with the voice backend.
package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// DefaultChunkInterval bounds encode and transport latency without flooding
// the channel with tiny messages
const DefaultChunkInterval = 100 * time.Millisecond

const readBufferSize = 4096

// Capture slices microphone input into fixed wall-clock chunks
type Capture struct {
	mic      repositories.Microphone
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	device  io.ReadCloser
	done    chan struct{}
	flushed chan struct{}
	format  repositories.AudioFormat
}

// NewCapture creates a capture reading from mic. A non-positive interval
// selects DefaultChunkInterval.
func NewCapture(mic repositories.Microphone, interval time.Duration, logger *zap.Logger) *Capture {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	return &Capture{mic: mic, interval: interval, logger: logger}
}

// Start acquires the microphone and emits one chunk per interval on the
// returned channel. ctx only bounds acquiring the device; capture runs until
// Stop or until the device runs out of data, and the channel is closed in
// both cases.
func (c *Capture) Start(ctx context.Context) (<-chan repositories.AudioChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil, &domain.DeviceError{Op: "start", Err: domain.ErrAlreadyRecording}
	}

	device, format, err := c.mic.Open(ctx)
	if err != nil {
		var deviceErr *domain.DeviceError
		if errors.As(err, &deviceErr) {
			return nil, err
		}
		return nil, &domain.DeviceError{Op: "open", Err: err}
	}

	c.device = device
	c.format = format
	c.done = make(chan struct{})
	c.flushed = make(chan struct{})

	out := make(chan repositories.AudioChunk)
	pending := &pendingAudio{}

	go c.readLoop(device, pending, c.done)
	go c.chunkLoop(out, pending, c.done, c.flushed)

	c.logger.Info("Microphone acquired",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels),
		zap.Duration("chunkInterval", c.interval))

	return out, nil
}

// Stop releases the microphone. When it returns no further chunk will be
// delivered and the chunk channel is closed. It is safe to call when not
// started and more than once.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return
	}
	device, done, flushed := c.device, c.done, c.flushed
	c.device = nil
	close(done)
	c.mu.Unlock()

	if err := device.Close(); err != nil {
		c.logger.Warn("Failed to release microphone", zap.Error(err))
	}
	<-flushed

	c.logger.Info("Microphone released")
}

// Format returns the PCM format of the current or last capture
func (c *Capture) Format() repositories.AudioFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// readLoop copies device output into pending until the device fails or ends
func (c *Capture) readLoop(device io.Reader, pending *pendingAudio, done <-chan struct{}) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := device.Read(buf)
		if n > 0 {
			pending.append(buf[:n])
		}
		if err != nil {
			select {
			case <-done:
			default:
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("Microphone read failed", zap.Error(err))
				}
			}
			pending.finish()
			return
		}
	}
}

// chunkLoop flushes whatever was captured once per interval
func (c *Capture) chunkLoop(out chan<- repositories.AudioChunk, pending *pendingAudio, done <-chan struct{}, flushed chan<- struct{}) {
	ticker := time.NewTicker(c.interval)
	defer func() {
		ticker.Stop()
		close(out)
		close(flushed)
	}()

	seq := 0
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			data, finished := pending.take()
			if len(data) > 0 {
				chunk := repositories.AudioChunk{Seq: seq, Data: data, CapturedAt: now}
				select {
				case out <- chunk:
					seq++
				case <-done:
					return
				}
			}
			if finished {
				c.logger.Info("Microphone input ended", zap.Int("chunks", seq))
				return
			}
		}
	}
}

// pendingAudio is the capture buffer between two chunk boundaries
type pendingAudio struct {
	mu       sync.Mutex
	data     []byte
	finished bool
}

func (p *pendingAudio) append(b []byte) {
	p.mu.Lock()
	p.data = append(p.data, b...)
	p.mu.Unlock()
}

func (p *pendingAudio) finish() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
}

func (p *pendingAudio) take() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.data
	p.data = nil
	return data, p.finished
}
