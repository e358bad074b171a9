package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/entities"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds the /ws/voice handshake
	DefaultConnectTimeout = 10 * time.Second

	defaultEventBuffer = 256
)

// ReplySource tells which request a reply answers
type ReplySource string

const (
	// ReplySourceVoice answers a finished recording
	ReplySourceVoice ReplySource = "voice"
	// ReplySourceChat answers text sent over the voice channel
	ReplySourceChat ReplySource = "chat"
)

// Event is something the session surfaces to its caller
type Event interface {
	isEvent()
}

// StateChanged reports the session state after a transition
type StateChanged struct {
	Connection entities.ConnectionState
	Recording  entities.RecordingState
}

// TranscriptUpdated carries a new transcription fragment and the whole
// transcript of the current recording
type TranscriptUpdated struct {
	Fragment   string
	Transcript []string
}

// ReplyReceived carries a structured assistant reply. Recommendations are
// passed through for display and never stored by the session.
type ReplyReceived struct {
	Reply  domain.ChatResponse
	Source ReplySource
}

// NoticeReceived carries an info or error notice sent by the backend
type NoticeReceived struct {
	Message string
	IsError bool
}

// ErrorOccurred reports a failure that did not come back from a method
// call: a dropped channel or a failed playback
type ErrorOccurred struct {
	Err error
}

func (StateChanged) isEvent()      {}
func (TranscriptUpdated) isEvent() {}
func (ReplyReceived) isEvent()     {}
func (NoticeReceived) isEvent()    {}
func (ErrorOccurred) isEvent()     {}

// VoiceSessionOption configures a VoiceSession
type VoiceSessionOption func(*VoiceSession)

// WithConnectTimeout overrides DefaultConnectTimeout
func WithConnectTimeout(d time.Duration) VoiceSessionOption {
	return func(s *VoiceSession) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithEventBuffer sets how many events may wait for the caller before new
// ones are dropped
func WithEventBuffer(n int) VoiceSessionOption {
	return func(s *VoiceSession) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// VoiceSession owns the voice channel and the recording lifecycle.
//
// One mutex serialises every transition and every outbound frame, so a
// chunk is only ever sent between start_recording and stop_recording.
type VoiceSession struct {
	userID         string
	dialer         repositories.VoiceDialer
	capture        repositories.AudioCapture
	playback       repositories.AudioPlayback
	metrics        *metrics.Metrics
	logger         *zap.Logger
	connectTimeout time.Duration

	events chan Event

	mu      sync.Mutex
	session *entities.Session
	channel repositories.VoiceChannel
	// starting is set while the microphone is being acquired
	starting bool
	// generation changes whenever a recording starts or ends; chunks from
	// an older generation are dropped
	generation uint64
}

// NewVoiceSession creates a disconnected session for userID
func NewVoiceSession(
	userID string,
	dialer repositories.VoiceDialer,
	capture repositories.AudioCapture,
	playback repositories.AudioPlayback,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...VoiceSessionOption,
) *VoiceSession {
	s := &VoiceSession{
		userID:         userID,
		dialer:         dialer,
		capture:        capture,
		playback:       playback,
		metrics:        m,
		logger:         logger,
		connectTimeout: DefaultConnectTimeout,
		events:         make(chan Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events yields everything the session surfaces. Events are dropped rather
// than blocking the session when the caller falls behind.
func (s *VoiceSession) Events() <-chan Event {
	return s.events
}

// State returns the current connection and recording state
func (s *VoiceSession) State() (entities.ConnectionState, entities.RecordingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return entities.ConnectionDisconnected, entities.RecordingIdle
	}
	return s.session.ConnectionState, s.session.RecordingState
}

// Transcript returns the fragments received during the current recording
func (s *VoiceSession) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.TranscriptSnapshot()
}

// SessionID returns the ID of the current session, empty before Connect
func (s *VoiceSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.ID
}

// Connect opens the voice channel. A failed or timed out handshake returns
// a *domain.TransportError and leaves the session disconnected.
func (s *VoiceSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.session != nil && s.session.ConnectionState != entities.ConnectionDisconnected {
		s.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	sess := entities.NewSession(s.userID)
	s.session = sess
	s.transitionLocked(sess, entities.ConnectionConnecting)
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	ch, err := s.dialer.Dial(dialCtx, s.userID)

	s.mu.Lock()
	if s.session != sess || sess.ConnectionState != entities.ConnectionConnecting {
		s.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return &domain.TransportError{Op: "connect", Err: domain.ErrChannelClosed}
	}

	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		var transportErr *domain.TransportError
		if !errors.As(err, &transportErr) {
			err = &domain.TransportError{Op: "connect", Err: err}
		}
		s.transitionLocked(sess, entities.ConnectionDisconnected)
		s.mu.Unlock()

		s.logger.Warn("Voice channel failed to open",
			zap.String("sessionID", sess.ID),
			zap.Error(err))
		return err
	}

	s.channel = ch
	s.transitionLocked(sess, entities.ConnectionConnected)
	s.mu.Unlock()

	s.logger.Info("Voice session connected",
		zap.String("sessionID", sess.ID),
		zap.String("userID", s.userID))

	go s.readLoop(sess, ch)
	return nil
}

// Close ends the session. An active recording is stopped and the
// microphone released before the channel closes. It is safe to call in any
// state.
func (s *VoiceSession) Close() error {
	s.mu.Lock()
	sess, ch := s.session, s.channel
	if sess == nil || sess.ConnectionState == entities.ConnectionDisconnected {
		s.mu.Unlock()
		return nil
	}

	if sess.IsRecording() {
		if err := s.stopRecordingLocked(sess); err != nil {
			s.logger.Debug("stop_recording not delivered on close", zap.Error(err))
		}
	}
	s.channel = nil
	s.transitionLocked(sess, entities.ConnectionDisconnected)
	s.mu.Unlock()

	s.logger.Info("Voice session closed", zap.String("sessionID", sess.ID))

	if ch != nil {
		return ch.Close()
	}
	return nil
}

// StartRecording acquires the microphone and begins streaming. It returns
// domain.ErrNotConnected without side effects unless the channel is open.
func (s *VoiceSession) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	if sess == nil || sess.ConnectionState != entities.ConnectionConnected {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	if sess.IsRecording() || s.starting {
		s.mu.Unlock()
		return domain.ErrAlreadyRecording
	}
	s.starting = true
	s.mu.Unlock()

	chunks, err := s.capture.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if err != nil {
		s.logger.Warn("Microphone unavailable",
			zap.String("sessionID", sess.ID),
			zap.Error(err))
		return err
	}

	if s.session != sess || sess.ConnectionState != entities.ConnectionConnected {
		s.capture.Stop()
		return domain.ErrNotConnected
	}

	if err := s.sendLocked(protocol.StartRecording{UserID: s.userID}); err != nil {
		s.capture.Stop()
		return &domain.TransportError{Op: "start_recording", Err: err}
	}

	if err := sess.BeginRecording(); err != nil {
		s.capture.Stop()
		return err
	}
	s.generation++
	s.emitStateLocked(sess)

	s.logger.Info("Recording started", zap.String("sessionID", sess.ID))

	go s.forward(sess, s.generation, chunks)
	return nil
}

// StopRecording sends stop_recording and releases the microphone. The
// microphone is released even when the frame cannot be sent.
func (s *VoiceSession) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil || !sess.IsRecording() {
		return domain.ErrNotRecording
	}
	return s.stopRecordingLocked(sess)
}

// SendText sends a typed message over the voice channel. The answer
// arrives as a ReplyReceived event from ReplySourceChat.
func (s *VoiceSession) SendText(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.ConnectionState != entities.ConnectionConnected {
		return domain.ErrNotConnected
	}
	return s.sendLocked(protocol.Chat{Message: message, UserID: s.userID})
}

// Ping sends an application heartbeat; the backend echoes it as a pong
func (s *VoiceSession) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.ConnectionState != entities.ConnectionConnected {
		return domain.ErrNotConnected
	}
	return s.sendLocked(protocol.Ping{Timestamp: time.Now().UnixMilli()})
}

// forward streams chunks of one recording until the capture ends
func (s *VoiceSession) forward(sess *entities.Session, generation uint64, chunks <-chan repositories.AudioChunk) {
	for chunk := range chunks {
		s.forwardChunk(generation, chunk)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == sess && s.generation == generation && sess.IsRecording() {
		s.logger.Info("Microphone input ended, stopping recording", zap.String("sessionID", sess.ID))
		if err := s.stopRecordingLocked(sess); err != nil {
			s.logger.Warn("Failed to stop recording", zap.Error(err))
		}
	}
}

func (s *VoiceSession) forwardChunk(generation uint64, chunk repositories.AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation || s.session == nil || !s.session.IsRecording() || s.channel == nil {
		s.metrics.ChunksDropped.Inc()
		return
	}

	if err := s.sendLocked(protocol.AudioChunk{Audio: chunk.Data}); err != nil {
		s.metrics.ChunksDropped.Inc()
		s.logger.Debug("Dropped audio chunk",
			zap.Int("seq", chunk.Seq),
			zap.Error(err))
		return
	}
	s.metrics.ChunksSent.Inc()
}

func (s *VoiceSession) stopRecordingLocked(sess *entities.Session) error {
	s.generation++
	sendErr := s.sendLocked(protocol.StopRecording{UserID: s.userID})
	s.capture.Stop()

	duration := sess.RecordingDuration()
	sess.EndRecording()
	s.emitStateLocked(sess)

	s.logger.Info("Recording stopped",
		zap.String("sessionID", sess.ID),
		zap.Duration("duration", duration))

	if sendErr != nil {
		return &domain.TransportError{Op: "stop_recording", Err: sendErr}
	}
	return nil
}

func (s *VoiceSession) sendLocked(msg protocol.Outbound) error {
	if s.channel == nil {
		return domain.ErrChannelClosed
	}
	payload, err := protocol.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	return s.channel.Send(payload)
}

func (s *VoiceSession) readLoop(sess *entities.Session, ch repositories.VoiceChannel) {
	for payload := range ch.Inbound() {
		s.handleInbound(sess, payload)
	}
	s.handleChannelClosed(sess, ch, ch.Err())
}

func (s *VoiceSession) handleInbound(sess *entities.Session, payload []byte) {
	msg, err := protocol.DecodeInbound(payload)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Warn("Dropping undecodable message",
			zap.String("sessionID", sess.ID),
			zap.Error(err))
		return
	}
	s.metrics.InboundMessages.WithLabelValues(string(msg.InboundType())).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return
	}

	switch m := msg.(type) {
	case protocol.Transcription:
		if m.Text == "" {
			return
		}
		sess.AppendTranscript(m.Text)
		s.emit(TranscriptUpdated{Fragment: m.Text, Transcript: sess.TranscriptSnapshot()})

	case protocol.Response:
		s.emit(ReplyReceived{Reply: m.Reply, Source: ReplySourceVoice})

	case protocol.ChatReply:
		s.emit(ReplyReceived{Reply: m.Reply, Source: ReplySourceChat})

	case protocol.AudioResponse:
		s.playback.Play(m.Audio, s.playbackDone)

	case protocol.Info:
		s.emit(NoticeReceived{Message: m.Message})

	case protocol.ServerError:
		s.logger.Warn("Backend reported an error",
			zap.String("sessionID", sess.ID),
			zap.String("message", m.Message))
		s.emit(NoticeReceived{Message: m.Message, IsError: true})

	case protocol.Pong:
		s.logger.Debug("Pong received",
			zap.String("sessionID", sess.ID),
			zap.Duration("latency", time.Since(time.UnixMilli(m.Timestamp))))
	}
}

func (s *VoiceSession) playbackDone(err error) {
	if err == nil {
		return
	}
	s.metrics.PlaybackFailures.Inc()
	s.emit(ErrorOccurred{Err: err})
}

// handleChannelClosed drops the session to disconnected after the channel
// ends on its own. A recording in flight is aborted without stop_recording.
func (s *VoiceSession) handleChannelClosed(sess *entities.Session, ch repositories.VoiceChannel, cause error) {
	s.mu.Lock()
	if s.session != sess || s.channel != ch {
		s.mu.Unlock()
		return
	}

	if sess.IsRecording() {
		s.generation++
		s.capture.Stop()
	}
	s.channel = nil
	s.transitionLocked(sess, entities.ConnectionDisconnected)
	s.mu.Unlock()

	ch.Close()

	if cause == nil {
		s.logger.Info("Voice channel closed by backend", zap.String("sessionID", sess.ID))
		return
	}

	var transportErr *domain.TransportError
	if !errors.As(cause, &transportErr) {
		cause = &domain.TransportError{Op: "read", Err: cause}
	}
	s.logger.Warn("Voice channel dropped",
		zap.String("sessionID", sess.ID),
		zap.Error(cause))
	s.emit(ErrorOccurred{Err: cause})
}

func (s *VoiceSession) transitionLocked(sess *entities.Session, next entities.ConnectionState) {
	if err := sess.TransitionTo(next); err != nil {
		s.logger.Error("Rejected state transition", zap.Error(err))
		return
	}
	s.emitStateLocked(sess)
}

func (s *VoiceSession) emitStateLocked(sess *entities.Session) {
	s.metrics.StateTransitions.WithLabelValues(stateLabel(sess)).Inc()
	s.emit(StateChanged{Connection: sess.ConnectionState, Recording: sess.RecordingState})
}

func (s *VoiceSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Event buffer full, dropping event", zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func stateLabel(sess *entities.Session) string {
	if sess.ConnectionState == entities.ConnectionConnected {
		return string(sess.RecordingState)
	}
	return string(sess.ConnectionState)
}
