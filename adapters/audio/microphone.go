package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// DefaultFormat is 16 kHz mono 16-bit PCM, what the backend transcribes
var DefaultFormat = repositories.AudioFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// WAVFileMicrophone replays a PCM WAV file in real time, as if it were
// being spoken into a microphone
type WAVFileMicrophone struct {
	Path string
}

// Open implements repositories.Microphone
func (m WAVFileMicrophone) Open(ctx context.Context) (io.ReadCloser, repositories.AudioFormat, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, repositories.AudioFormat{}, &domain.DeviceError{Op: "open", Err: err}
	}

	format, data, err := ReadWAV(f)
	if err != nil {
		f.Close()
		return nil, repositories.AudioFormat{}, &domain.DeviceError{Op: "open", Err: fmt.Errorf("%s: %w", m.Path, err)}
	}

	return newPacedReader(data, f, format.BytesPerSecond()), format, nil
}

// StreamMicrophone reads raw PCM from a stream such as stdin
type StreamMicrophone struct {
	Reader io.Reader
	Format repositories.AudioFormat
	// Realtime paces reads to the format's byte rate. Leave it off for
	// sources that already deliver audio as it is spoken.
	Realtime bool
}

// Open implements repositories.Microphone
func (m StreamMicrophone) Open(ctx context.Context) (io.ReadCloser, repositories.AudioFormat, error) {
	if m.Reader == nil {
		return nil, repositories.AudioFormat{}, &domain.DeviceError{Op: "open", Err: os.ErrNotExist}
	}
	format := m.Format
	if format.BytesPerSecond() <= 0 {
		format = DefaultFormat
	}

	closer, _ := m.Reader.(io.Closer)
	if !m.Realtime {
		return &streamReader{r: m.Reader, closer: closer, closed: make(chan struct{})}, format, nil
	}
	return newPacedReader(m.Reader, closer, format.BytesPerSecond()), format, nil
}

// streamReader stops returning data once closed even if the underlying
// reader cannot be interrupted
type streamReader struct {
	r      io.Reader
	closer io.Closer

	once   sync.Once
	closed chan struct{}
}

func (s *streamReader) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, os.ErrClosed
	default:
	}
	return s.r.Read(p)
}

func (s *streamReader) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// pacedReader never returns data faster than bytesPerSecond
type pacedReader struct {
	streamReader
	bytesPerSecond int
	started        time.Time
	delivered      int64
}

// Reads are capped at 20ms of audio so chunk boundaries stay close to
// wall-clock time.
const pacedReadWindow = 20 * time.Millisecond

func newPacedReader(r io.Reader, closer io.Closer, bytesPerSecond int) *pacedReader {
	return &pacedReader{
		streamReader:   streamReader{r: r, closer: closer, closed: make(chan struct{})},
		bytesPerSecond: bytesPerSecond,
	}
}

func (p *pacedReader) Read(buf []byte) (int, error) {
	if p.started.IsZero() {
		p.started = time.Now()
	}

	due := p.started.Add(time.Duration(p.delivered) * time.Second / time.Duration(p.bytesPerSecond))
	if wait := time.Until(due); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.closed:
			timer.Stop()
			return 0, os.ErrClosed
		}
	}

	window := int(int64(p.bytesPerSecond) * int64(pacedReadWindow) / int64(time.Second))
	if window > 0 && len(buf) > window {
		buf = buf[:window]
	}

	n, err := p.streamReader.Read(buf)
	p.delivered += int64(n)
	return n, err
}
