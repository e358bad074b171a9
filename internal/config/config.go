// Package config loads client and development backend settings from the
// environment, after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Logging selects the zap logger built by the logging package
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// Client configures the travelbuddy command
type Client struct {
	BaseURL        string        `env:"TRAVELBUDDY_BASE_URL" envDefault:"http://localhost:8000"`
	UserID         string        `env:"TRAVELBUDDY_USER_ID" envDefault:"guest"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	ChatTimeout    time.Duration `env:"CHAT_TIMEOUT" envDefault:"30s"`

	// Audio capture
	ChunkInterval time.Duration `env:"CHUNK_INTERVAL" envDefault:"100ms"`
	SampleRate    int           `env:"SAMPLE_RATE" envDefault:"16000"`
	Channels      int           `env:"CHANNELS" envDefault:"1"`

	// Audio playback. Clips are saved to AudioOutputDir unless PlayerCommand
	// is set, in which case they are piped to it.
	AudioOutputDir string `env:"AUDIO_OUTPUT_DIR" envDefault:"audio_responses"`
	PlayerCommand  string `env:"PLAYER_COMMAND"`

	// Optional listener exposing /metrics
	MetricsAddr string `env:"METRICS_ADDR"`

	Logging
}

// Server configures the development backend
type Server struct {
	Port int `env:"PORT" envDefault:"8000"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	GoogleSTTEnabled bool   `env:"GOOGLE_STT_ENABLED" envDefault:"false"`
	STTLanguage      string `env:"STT_LANGUAGE" envDefault:"en-IN"`
	SampleRate       int    `env:"SAMPLE_RATE" envDefault:"16000"`

	ElevenLabsAPIKey  string `env:"ELEVEN_LABS_API_KEY"`
	ElevenLabsVoiceID string `env:"ELEVEN_LABS_VOICE_ID"`

	// Recordings left open longer than this are abandoned by the sweeper
	MaxRecording time.Duration `env:"MAX_RECORDING" envDefault:"2m"`

	Logging
}

// LoadClient reads the client configuration
func LoadClient() (*Client, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return parseClient(env.Options{})
}

// LoadServer reads the development backend configuration
func LoadServer() (*Server, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return parseServer(env.Options{})
}

func parseClient(opts env.Options) (*Client, error) {
	cfg := &Client{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseServer(opts env.Options) (*Server, error) {
	cfg := &Server{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env when present. Variables already set win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Validate checks the client configuration
func (c *Client) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid TRAVELBUDDY_BASE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("TRAVELBUDDY_BASE_URL must use http or https, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("TRAVELBUDDY_BASE_URL has no host: %q", c.BaseURL)
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("TRAVELBUDDY_USER_ID is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive, got %s", c.ConnectTimeout)
	}
	if c.ChatTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be positive, got %s", c.ChatTimeout)
	}
	if c.ChunkInterval < 10*time.Millisecond || c.ChunkInterval > time.Second {
		return fmt.Errorf("CHUNK_INTERVAL must be between 10ms and 1s, got %s", c.ChunkInterval)
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("SAMPLE_RATE must be between 8000 and 48000, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("CHANNELS must be 1 or 2, got %d", c.Channels)
	}
	return c.Logging.Validate()
}

// Validate checks the development backend configuration
func (s *Server) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", s.Port)
	}
	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		return fmt.Errorf("SAMPLE_RATE must be between 8000 and 48000, got %d", s.SampleRate)
	}
	if s.STTLanguage == "" {
		return errors.New("STT_LANGUAGE is required")
	}
	if s.MaxRecording <= 0 {
		return fmt.Errorf("MAX_RECORDING must be positive, got %s", s.MaxRecording)
	}
	return s.Logging.Validate()
}

// Validate checks the logging settings
func (l Logging) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", l.Format)
	}
	return nil
}
