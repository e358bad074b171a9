package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// WAVHeader is the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const wavHeaderSize = 44

// EncodeWAV wraps raw little-endian PCM in a WAV container
func EncodeWAV(pcm []byte, format repositories.AudioFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("cannot encode empty audio")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitsPerSample <= 0 {
		return nil, fmt.Errorf("invalid audio format %+v", format)
	}

	dataSize := uint32(len(pcm))
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.Channels * format.BitsPerSample / 8),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ReadWAV reads a WAV header from r and returns the PCM format and a reader
// positioned at the start of the sample data. Chunks other than "fmt " and
// "data" are skipped.
func ReadWAV(r io.Reader) (repositories.AudioFormat, io.Reader, error) {
	var format repositories.AudioFormat

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return format, nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return format, nil, errors.New("invalid WAV file: missing RIFF/WAVE header")
	}

	haveFormat := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return format, nil, fmt.Errorf("invalid WAV file: missing data chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return format, nil, fmt.Errorf("invalid fmt chunk size %d", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return format, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(body[0:2]); audioFormat != 1 {
				return format, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFormat = true

		case "data":
			if !haveFormat {
				return format, nil, errors.New("invalid WAV file: data chunk before fmt chunk")
			}
			if format.BytesPerSecond() <= 0 {
				return format, nil, fmt.Errorf("invalid audio format %+v", format)
			}
			return format, io.LimitReader(r, int64(size)), nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return format, nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// IsMP3 reports whether data starts with an ID3 tag or an MPEG frame sync
func IsMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// SineTone renders a 16-bit mono tone. The development backend uses it in
// place of synthesized speech.
func SineTone(frequency float64, duration float64, sampleRate int) []byte {
	samples := int(duration * float64(sampleRate))
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}
