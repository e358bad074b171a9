package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/entities"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/protocol"
)

// fakeChannel is an in-memory VoiceChannel
type fakeChannel struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	err     error
	inbound chan []byte
	once    sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan []byte, 16)}
}

func (c *fakeChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeChannel) Inbound() <-chan []byte { return c.inbound }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.inbound) })
	return nil
}

// drop simulates the backend going away
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	c.closed = true
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.inbound) })
}

func (c *fakeChannel) deliver(payload string) {
	c.inbound <- []byte(payload)
}

// frames returns the type of every frame sent so far
func (c *fakeChannel) frames(t *testing.T) []protocol.MessageType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.MessageType, 0, len(c.sent))
	for _, payload := range c.sent {
		msg, err := protocol.DecodeOutbound(payload)
		if err != nil {
			t.Fatalf("Session sent an invalid frame %s: %v", payload, err)
		}
		out = append(out, msg.OutboundType())
	}
	return out
}

type fakeDialer struct {
	channel *fakeChannel
	err     error
	block   bool
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, userID string) (repositories.VoiceChannel, error) {
	d.dials++
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.channel, nil
}

// fakeCapture hands chunks pushed by the test to the session. A leaky
// capture keeps its channel open after Stop to exercise the session's own
// guard against late chunks.
type fakeCapture struct {
	mu      sync.Mutex
	chunks  chan repositories.AudioChunk
	err     error
	leaky   bool
	starts  int
	stops   int
	running bool
	seq     int
}

func (c *fakeCapture) Start(ctx context.Context) (<-chan repositories.AudioChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.starts++
	c.running = true
	c.chunks = make(chan repositories.AudioChunk)
	return c.chunks, nil
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.stops++
	if !c.leaky {
		close(c.chunks)
	}
}

func (c *fakeCapture) push(data string) {
	c.mu.Lock()
	ch := c.chunks
	seq := c.seq
	c.seq++
	c.mu.Unlock()
	ch <- repositories.AudioChunk{Seq: seq, Data: []byte(data), CapturedAt: time.Now()}
}

// end simulates the microphone running out of input
func (c *fakeCapture) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.chunks)
	c.leaky = true
}

func (c *fakeCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *fakeCapture) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type fakePlayback struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (p *fakePlayback) Play(payload string, done func(error)) {
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	err := p.err
	p.mu.Unlock()
	go done(err)
}

func (p *fakePlayback) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

type sessionFixture struct {
	session  *VoiceSession
	channel  *fakeChannel
	dialer   *fakeDialer
	capture  *fakeCapture
	playback *fakePlayback
	metrics  *metrics.Metrics
}

func newSessionFixture(opts ...VoiceSessionOption) *sessionFixture {
	f := &sessionFixture{
		channel:  newFakeChannel(),
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		metrics:  metrics.NewNop(),
	}
	f.dialer = &fakeDialer{channel: f.channel}
	f.session = NewVoiceSession("guest", f.dialer, f.capture, f.playback, f.metrics, zap.NewNop(), opts...)
	return f
}

func (f *sessionFixture) connect(t *testing.T) {
	t.Helper()
	if err := f.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func (f *sessionFixture) record(t *testing.T) {
	t.Helper()
	f.connect(t)
	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitEvent[T Event](t *testing.T, s *VoiceSession) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if match, ok := ev.(T); ok {
				return match
			}
		case <-timeout:
			var zero T
			t.Fatalf("Timed out waiting for %T", zero)
			return zero
		}
	}
}

func drainStates(s *VoiceSession) []StateChanged {
	var out []StateChanged
	for {
		select {
		case ev := <-s.Events():
			if sc, ok := ev.(StateChanged); ok {
				out = append(out, sc)
			}
		default:
			return out
		}
	}
}

func equalFrames(a, b []protocol.MessageType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestConnectSayNothingDisconnect(t *testing.T) {
	f := newSessionFixture()

	f.connect(t)
	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	states := drainStates(f.session)
	want := []entities.ConnectionState{
		entities.ConnectionConnecting,
		entities.ConnectionConnected,
		entities.ConnectionDisconnected,
	}
	if len(states) != len(want) {
		t.Fatalf("Expected %d transitions, got %+v", len(want), states)
	}
	for i, state := range states {
		if state.Connection != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], state.Connection)
		}
		if state.Recording != entities.RecordingIdle {
			t.Errorf("Transition %d: expected idle recording, got %s", i, state.Recording)
		}
	}

	if len(f.session.Transcript()) != 0 {
		t.Errorf("Expected empty transcript, got %v", f.session.Transcript())
	}
	if frames := f.channel.frames(t); len(frames) != 0 {
		t.Errorf("Expected no frames, got %v", frames)
	}
}

func TestStartRecordingWhileDisconnected(t *testing.T) {
	f := newSessionFixture()

	err := f.session.StartRecording(context.Background())
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if f.capture.starts != 0 {
		t.Error("Microphone should not be acquired while disconnected")
	}

	conn, rec := f.session.State()
	if conn != entities.ConnectionDisconnected || rec != entities.RecordingIdle {
		t.Errorf("Expected disconnected/idle, got %s/%s", conn, rec)
	}
}

func TestRecordingStreamsChunksBetweenStartAndStop(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	for _, data := range []string{"a", "b", "c"} {
		f.capture.push(data)
	}
	waitFor(t, "three chunks", func() bool {
		return testutil.ToFloat64(f.metrics.ChunksSent) == 3
	})

	if err := f.session.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	want := []protocol.MessageType{
		protocol.MessageTypeStartRecording,
		protocol.MessageTypeAudioChunk,
		protocol.MessageTypeAudioChunk,
		protocol.MessageTypeAudioChunk,
		protocol.MessageTypeStopRecording,
	}
	if got := f.channel.frames(t); !equalFrames(got, want) {
		t.Errorf("Expected frames %v, got %v", want, got)
	}

	if f.capture.isRunning() {
		t.Error("Microphone should be released after StopRecording")
	}
	if _, rec := f.session.State(); rec != entities.RecordingIdle {
		t.Errorf("Expected idle, got %s", rec)
	}

	if err := f.session.StopRecording(); !errors.Is(err, domain.ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording on second stop, got %v", err)
	}
}

func TestChunkAfterStopIsNeverSent(t *testing.T) {
	f := newSessionFixture()
	f.capture.leaky = true
	f.record(t)

	f.capture.push("before")
	waitFor(t, "first chunk", func() bool {
		return testutil.ToFloat64(f.metrics.ChunksSent) == 1
	})

	if err := f.session.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	f.capture.push("late")
	waitFor(t, "late chunk to be dropped", func() bool {
		return testutil.ToFloat64(f.metrics.ChunksDropped) == 1
	})

	frames := f.channel.frames(t)
	if frames[len(frames)-1] != protocol.MessageTypeStopRecording {
		t.Errorf("Expected stop_recording to be the last frame, got %v", frames)
	}
}

func TestChunksDroppedWhenChannelRejectsSend(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	f.channel.mu.Lock()
	f.channel.closed = true
	f.channel.mu.Unlock()

	f.capture.push("lost")
	waitFor(t, "chunk to be dropped", func() bool {
		return testutil.ToFloat64(f.metrics.ChunksDropped) == 1
	})

	if _, rec := f.session.State(); rec != entities.RecordingActive {
		t.Errorf("A dropped chunk should not change the recording state, got %s", rec)
	}
}

func TestDropDuringRecording(t *testing.T) {
	f := newSessionFixture()
	f.record(t)
	f.capture.push("a")

	f.channel.drop(errors.New("connection reset by peer"))

	failure := waitEvent[ErrorOccurred](t, f.session)
	if !errors.Is(failure.Err, domain.ErrTransport) {
		t.Errorf("Expected transport error, got %v", failure.Err)
	}

	conn, rec := f.session.State()
	if conn != entities.ConnectionDisconnected {
		t.Errorf("Expected disconnected, got %s", conn)
	}
	if rec != entities.RecordingIdle {
		t.Errorf("Expected idle, got %s", rec)
	}
	if f.capture.isRunning() {
		t.Error("Microphone should be released after a drop")
	}

	for _, frame := range f.channel.frames(t) {
		if frame == protocol.MessageTypeStopRecording {
			t.Error("stop_recording cannot reach a dropped channel")
		}
	}

	if err := f.session.StartRecording(context.Background()); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after drop, got %v", err)
	}
}

func TestBackendCloseWithoutError(t *testing.T) {
	f := newSessionFixture()
	f.connect(t)

	f.channel.drop(nil)

	waitFor(t, "disconnect", func() bool {
		conn, _ := f.session.State()
		return conn == entities.ConnectionDisconnected
	})

	if err := f.session.Connect(context.Background()); err != nil {
		t.Errorf("Reconnect after close should be allowed, got %v", err)
	}
	if f.dialer.dials != 2 {
		t.Errorf("Expected 2 dials, got %d", f.dialer.dials)
	}
}

func TestUnknownInboundTypeLeavesStateUnchanged(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	f.channel.deliver(`{"type":"hologram","payload":{}}`)
	f.channel.deliver(`not json at all`)

	waitFor(t, "decode errors", func() bool {
		return testutil.ToFloat64(f.metrics.DecodeErrors) == 2
	})

	conn, rec := f.session.State()
	if conn != entities.ConnectionConnected || rec != entities.RecordingActive {
		t.Errorf("Expected connected/recording, got %s/%s", conn, rec)
	}
	if len(f.session.Transcript()) != 0 {
		t.Error("Transcript should be untouched")
	}
}

func TestInboundTranscriptionAndReply(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	f.channel.deliver(`{"type":"transcription","text":"find me a hotel"}`)
	f.channel.deliver(`{"type":"transcription","text":"in Kochi"}`)

	update := waitEvent[TranscriptUpdated](t, f.session)
	if update.Fragment != "find me a hotel" {
		t.Errorf("Expected first fragment, got %q", update.Fragment)
	}
	update = waitEvent[TranscriptUpdated](t, f.session)
	if len(update.Transcript) != 2 || update.Transcript[1] != "in Kochi" {
		t.Errorf("Expected two fragments, got %v", update.Transcript)
	}

	f.channel.deliver(`{"type":"response","data":{"message":"Here are some hotels you might like in Kochi:","recommendations":{"hotels":[{"name":"Brunton Boatyard","price":11200}]}}}`)

	reply := waitEvent[ReplyReceived](t, f.session)
	if reply.Source != ReplySourceVoice {
		t.Errorf("Expected voice source, got %s", reply.Source)
	}
	if !reply.Reply.HasRecommendations() || reply.Reply.Recommendations.Hotels[0].Name != "Brunton Boatyard" {
		t.Errorf("Expected hotel recommendations, got %+v", reply.Reply.Recommendations)
	}

	// A new recording starts with a fresh transcript.
	f.session.StopRecording()
	if err := f.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("Second StartRecording failed: %v", err)
	}
	if len(f.session.Transcript()) != 0 {
		t.Errorf("Expected transcript reset, got %v", f.session.Transcript())
	}
}

func TestEmptyTranscriptionIsIgnored(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	f.channel.deliver(`{"type":"transcription","text":""}`)
	waitFor(t, "inbound message", func() bool {
		return testutil.ToFloat64(f.metrics.InboundMessages.WithLabelValues("transcription")) == 1
	})

	if len(f.session.Transcript()) != 0 {
		t.Errorf("Expected empty transcript, got %v", f.session.Transcript())
	}
}

func TestAudioResponseIsPlayed(t *testing.T) {
	f := newSessionFixture()
	f.connect(t)

	f.channel.deliver(`{"type":"audio_response","audio":"UklGRg=="}`)
	waitFor(t, "playback", func() bool { return len(f.playback.played()) == 1 })

	if got := f.playback.played()[0]; got != "UklGRg==" {
		t.Errorf("Expected payload to reach playback untouched, got %q", got)
	}
}

func TestPlaybackFailureIsReported(t *testing.T) {
	f := newSessionFixture()
	f.playback.err = &domain.DecodeError{Type: "audio_response", Err: errors.New("bad payload")}
	f.connect(t)

	f.channel.deliver(`{"type":"audio_response","audio":"@@@@"}`)

	failure := waitEvent[ErrorOccurred](t, f.session)
	if !errors.Is(failure.Err, domain.ErrDecode) {
		t.Errorf("Expected decode error, got %v", failure.Err)
	}
	if testutil.ToFloat64(f.metrics.PlaybackFailures) != 1 {
		t.Error("Expected playback failure to be counted")
	}
	if conn, _ := f.session.State(); conn != entities.ConnectionConnected {
		t.Errorf("Playback failure must not affect the connection, got %s", conn)
	}
}

func TestNoticesAndChatReplies(t *testing.T) {
	f := newSessionFixture()
	f.connect(t)

	if err := f.session.SendText("hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := f.session.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	want := []protocol.MessageType{protocol.MessageTypeChat, protocol.MessageTypePing}
	if got := f.channel.frames(t); !equalFrames(got, want) {
		t.Errorf("Expected frames %v, got %v", want, got)
	}

	f.channel.deliver(`{"type":"info","message":"Recording started"}`)
	notice := waitEvent[NoticeReceived](t, f.session)
	if notice.IsError || notice.Message != "Recording started" {
		t.Errorf("Unexpected notice %+v", notice)
	}

	f.channel.deliver(`{"type":"error","message":"Unknown message type: dance"}`)
	notice = waitEvent[NoticeReceived](t, f.session)
	if !notice.IsError {
		t.Error("Expected an error notice")
	}

	f.channel.deliver(`{"type":"chat_response","data":{"message":"Hi there!","intent":"greeting"}}`)
	reply := waitEvent[ReplyReceived](t, f.session)
	if reply.Source != ReplySourceChat || reply.Reply.Intent != "greeting" {
		t.Errorf("Unexpected chat reply %+v", reply)
	}

	f.channel.deliver(`{"type":"pong","timestamp":1}`)
	waitFor(t, "pong", func() bool {
		return testutil.ToFloat64(f.metrics.InboundMessages.WithLabelValues("pong")) == 1
	})
}

func TestSendTextWhileDisconnected(t *testing.T) {
	f := newSessionFixture()

	if err := f.session.SendText("hello"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := f.session.Ping(); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	f := newSessionFixture(WithConnectTimeout(20 * time.Millisecond))
	f.dialer.block = true

	err := f.session.Connect(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Expected transport error, got %v", err)
	}
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}

	if conn, _ := f.session.State(); conn != entities.ConnectionDisconnected {
		t.Errorf("Expected disconnected, got %s", conn)
	}
}

func TestConnectFailure(t *testing.T) {
	f := newSessionFixture()
	f.dialer.err = errors.New("connection refused")

	err := f.session.Connect(context.Background())
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected *domain.TransportError, got %v", err)
	}

	states := drainStates(f.session)
	if len(states) != 2 || states[1].Connection != entities.ConnectionDisconnected {
		t.Errorf("Expected connecting then disconnected, got %+v", states)
	}
}

func TestConnectTwice(t *testing.T) {
	f := newSessionFixture()
	f.connect(t)

	if err := f.session.Connect(context.Background()); !errors.Is(err, domain.ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestStartRecordingDeviceError(t *testing.T) {
	f := newSessionFixture()
	f.capture.err = &domain.DeviceError{Op: "open", Err: errors.New("permission denied")}
	f.connect(t)

	err := f.session.StartRecording(context.Background())
	if !errors.Is(err, domain.ErrDevice) {
		t.Errorf("Expected device error, got %v", err)
	}

	if _, rec := f.session.State(); rec != entities.RecordingIdle {
		t.Errorf("Expected idle, got %s", rec)
	}
	if frames := f.channel.frames(t); len(frames) != 0 {
		t.Errorf("Expected no frames, got %v", frames)
	}
}

func TestStartRecordingTwice(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	if err := f.session.StartRecording(context.Background()); !errors.Is(err, domain.ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}
	if f.capture.starts != 1 {
		t.Errorf("Expected one microphone acquisition, got %d", f.capture.starts)
	}
}

func TestCaptureEndStopsRecording(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	f.capture.push("tail")
	f.capture.end()

	waitFor(t, "recording to stop", func() bool {
		_, rec := f.session.State()
		return rec == entities.RecordingIdle
	})

	frames := f.channel.frames(t)
	if frames[len(frames)-1] != protocol.MessageTypeStopRecording {
		t.Errorf("Expected stop_recording after input ended, got %v", frames)
	}
	if f.capture.stopCount() != 1 {
		t.Errorf("Expected microphone to be released once, got %d", f.capture.stopCount())
	}
}

func TestCloseWhileRecording(t *testing.T) {
	f := newSessionFixture()
	f.record(t)

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if f.capture.isRunning() {
		t.Error("Microphone should be released on close")
	}
	frames := f.channel.frames(t)
	if frames[len(frames)-1] != protocol.MessageTypeStopRecording {
		t.Errorf("Expected stop_recording before close, got %v", frames)
	}

	conn, rec := f.session.State()
	if conn != entities.ConnectionDisconnected || rec != entities.RecordingIdle {
		t.Errorf("Expected disconnected/idle, got %s/%s", conn, rec)
	}

	if err := f.session.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
