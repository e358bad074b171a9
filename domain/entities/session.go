package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of the duplex voice channel
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// RecordingState is the microphone lifecycle state within a connected session
type RecordingState string

const (
	RecordingIdle   RecordingState = "idle"
	RecordingActive RecordingState = "recording"
)

// ErrInvalidTransition is returned when a state change is not allowed
var ErrInvalidTransition = errors.New("invalid state transition")

// connectionTransitions lists every allowed connection state change
var connectionTransitions = map[ConnectionState][]ConnectionState{
	ConnectionDisconnected: {ConnectionConnecting},
	ConnectionConnecting:   {ConnectionConnected, ConnectionDisconnected},
	ConnectionConnected:    {ConnectionDisconnected},
}

// Session is one active voice interaction
type Session struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	ConnectionState    ConnectionState `json:"connection_state"`
	RecordingState     RecordingState  `json:"recording_state"`
	Transcript         []string        `json:"transcript"`
	CreatedAt          time.Time       `json:"created_at"`
	RecordingStartedAt *time.Time      `json:"recording_started_at,omitempty"`
}

// NewSession creates a disconnected, idle session for a user
func NewSession(userID string) *Session {
	return &Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		ConnectionState: ConnectionDisconnected,
		RecordingState:  RecordingIdle,
		Transcript:      make([]string, 0),
		CreatedAt:       time.Now(),
	}
}

// TransitionTo moves the connection state along an allowed edge. Leaving
// the connected state always drops the recording back to idle.
func (s *Session) TransitionTo(next ConnectionState) error {
	for _, allowed := range connectionTransitions[s.ConnectionState] {
		if allowed == next {
			s.ConnectionState = next
			if next != ConnectionConnected {
				s.RecordingState = RecordingIdle
				s.RecordingStartedAt = nil
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.ConnectionState, next)
}

// BeginRecording starts a new recording and clears the transcript of the
// previous one
func (s *Session) BeginRecording() error {
	if s.ConnectionState != ConnectionConnected {
		return fmt.Errorf("%w: cannot record while %s", ErrInvalidTransition, s.ConnectionState)
	}
	if s.RecordingState == RecordingActive {
		return fmt.Errorf("%w: already recording", ErrInvalidTransition)
	}
	now := time.Now()
	s.RecordingState = RecordingActive
	s.RecordingStartedAt = &now
	s.Transcript = make([]string, 0)
	return nil
}

// EndRecording returns the session to idle
func (s *Session) EndRecording() error {
	if s.RecordingState != RecordingActive {
		return fmt.Errorf("%w: not recording", ErrInvalidTransition)
	}
	s.RecordingState = RecordingIdle
	s.RecordingStartedAt = nil
	return nil
}

// IsRecording reports whether chunks may be sent
func (s *Session) IsRecording() bool {
	return s.ConnectionState == ConnectionConnected && s.RecordingState == RecordingActive
}

// AppendTranscript adds a fragment received from the backend
func (s *Session) AppendTranscript(fragment string) {
	s.Transcript = append(s.Transcript, fragment)
}

// TranscriptSnapshot returns a copy of the transcript
func (s *Session) TranscriptSnapshot() []string {
	out := make([]string, len(s.Transcript))
	copy(out, s.Transcript)
	return out
}

// RecordingDuration returns how long the current recording has been running
func (s *Session) RecordingDuration() time.Duration {
	if s.RecordingStartedAt == nil {
		return 0
	}
	return time.Since(*s.RecordingStartedAt)
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.UserID == "" {
		return errors.New("user_id is required")
	}

	switch s.ConnectionState {
	case ConnectionDisconnected, ConnectionConnecting, ConnectionConnected:
	default:
		return errors.New("invalid connection state")
	}

	switch s.RecordingState {
	case RecordingIdle:
	case RecordingActive:
		if s.ConnectionState != ConnectionConnected {
			return errors.New("recording requires a connected session")
		}
	default:
		return errors.New("invalid recording state")
	}

	return nil
}
