package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/adapters"
	"github.com/satriahrh/travelbuddy/adapters/audio"
	"github.com/satriahrh/travelbuddy/adapters/stt"
	"github.com/satriahrh/travelbuddy/adapters/tts"
	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/protocol"
	"github.com/satriahrh/travelbuddy/usecase"
)

type testBackend struct {
	hub     *Hub
	metrics *metrics.Metrics
	server  *httptest.Server
	dialer  *Dialer
}

func setupTestBackend(t *testing.T) *testBackend {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewNop()

	conversation := usecase.NewConversationService(
		stt.NewMockSpeechToText(logger),
		tts.NewToneTextToSpeech(logger),
		usecase.NewChatService(adapters.NewKeralaCatalog(), nil, logger),
		repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-IN"},
		logger,
	)
	hub := NewHub(conversation, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET(VoicePath, func(c echo.Context) error {
		return HandleWebSocket(hub, c)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	dialer, err := NewDialer(server.URL, logger)
	if err != nil {
		t.Fatalf("NewDialer failed: %v", err)
	}
	return &testBackend{hub: hub, metrics: m, server: server, dialer: dialer}
}

func (b *testBackend) connect(t *testing.T, userID string) repositories.VoiceChannel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel, err := b.dialer.Dial(ctx, userID)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	return channel
}

func send(t *testing.T, channel repositories.VoiceChannel, msg protocol.Outbound) {
	t.Helper()
	payload, err := protocol.EncodeOutbound(msg)
	if err != nil {
		t.Fatalf("EncodeOutbound failed: %v", err)
	}
	if err := channel.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func sendRaw(t *testing.T, channel repositories.VoiceChannel, payload string) {
	t.Helper()
	if err := channel.Send([]byte(payload)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func receive(t *testing.T, channel repositories.VoiceChannel) protocol.Inbound {
	t.Helper()
	select {
	case payload, ok := <-channel.Inbound():
		if !ok {
			t.Fatalf("Channel closed: %v", channel.Err())
		}
		msg, err := protocol.DecodeInbound(payload)
		if err != nil {
			t.Fatalf("DecodeInbound failed for %s: %v", payload, err)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for a message")
		return nil
	}
}

func expectError(t *testing.T, channel repositories.VoiceChannel, want string) {
	t.Helper()
	msg, ok := receive(t, channel).(protocol.ServerError)
	if !ok {
		t.Fatalf("Expected an error message")
	}
	if msg.Message != want {
		t.Errorf("Expected error %q, got %q", want, msg.Message)
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestRecordingRoundTrip(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	send(t, channel, protocol.StartRecording{UserID: "guest"})
	info, ok := receive(t, channel).(protocol.Info)
	if !ok || info.Message != "Recording started" {
		t.Fatalf("Expected recording started notice, got %+v", info)
	}

	// 600ms of 16kHz mono 16-bit audio in 100ms chunks
	pcm := audio.SineTone(440, 0.6, 16000)
	chunkSize := audio.DefaultFormat.BytesPerSecond() / 10
	for offset := 0; offset < len(pcm); offset += chunkSize {
		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		send(t, channel, protocol.AudioChunk{Audio: pcm[offset:end]})
	}
	send(t, channel, protocol.StopRecording{UserID: "guest"})

	transcription, ok := receive(t, channel).(protocol.Transcription)
	if !ok {
		t.Fatal("Expected transcription first")
	}
	if transcription.Text != "find me a hotel in Kochi" {
		t.Errorf("Expected hotel transcript, got %q", transcription.Text)
	}

	response, ok := receive(t, channel).(protocol.Response)
	if !ok {
		t.Fatal("Expected response second")
	}
	if response.Reply.Intent != usecase.IntentHotelSearch {
		t.Errorf("Expected intent %s, got %s", usecase.IntentHotelSearch, response.Reply.Intent)
	}
	if !response.Reply.HasRecommendations() {
		t.Error("Expected hotel recommendations")
	}

	clip, ok := receive(t, channel).(protocol.AudioResponse)
	if !ok {
		t.Fatal("Expected audio_response third")
	}
	data, err := base64.StdEncoding.DecodeString(clip.Audio)
	if err != nil {
		t.Fatalf("Audio is not base64: %v", err)
	}
	if !audio.IsWAV(data) {
		t.Error("Expected a WAV clip")
	}

	if got := testutil.ToFloat64(backend.metrics.Utterances); got != 1 {
		t.Errorf("Expected 1 utterance, got %v", got)
	}
}

func TestEmptyRecordingAsksAgain(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	send(t, channel, protocol.StartRecording{UserID: "guest"})
	receive(t, channel)
	send(t, channel, protocol.StopRecording{UserID: "guest"})

	transcription, ok := receive(t, channel).(protocol.Transcription)
	if !ok || transcription.Text != "" {
		t.Fatalf("Expected an empty transcription, got %+v", transcription)
	}
	response, ok := receive(t, channel).(protocol.Response)
	if !ok || !strings.Contains(response.Reply.Message, "didn't catch that") {
		t.Errorf("Expected a retry prompt, got %+v", response)
	}
}

func TestProcessMessageErrors(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"unknown type", `{"type":"dance"}`, "Unknown message type: dance"},
		{"stop without start", `{"type":"stop_recording","user_id":"guest"}`, "No active recording"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendRaw(t, channel, tt.payload)
			expectError(t, channel, tt.want)
		})
	}

	sendRaw(t, channel, `not json`)
	msg, ok := receive(t, channel).(protocol.ServerError)
	if !ok || !strings.HasPrefix(msg.Message, "Invalid message") {
		t.Errorf("Expected invalid message error, got %+v", msg)
	}
}

func TestPingAndChat(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	send(t, channel, protocol.Ping{Timestamp: 1700000000000})
	pong, ok := receive(t, channel).(protocol.Pong)
	if !ok || pong.Timestamp != 1700000000000 {
		t.Errorf("Expected pong echoing the timestamp, got %+v", pong)
	}

	send(t, channel, protocol.Chat{Message: "what should I see in Munnar", UserID: "guest"})
	reply, ok := receive(t, channel).(protocol.ChatReply)
	if !ok {
		t.Fatal("Expected chat_response")
	}
	if reply.Reply.Intent != usecase.IntentAttractionSearch {
		t.Errorf("Expected intent %s, got %s", usecase.IntentAttractionSearch, reply.Reply.Intent)
	}
}

func TestHubTracksClients(t *testing.T) {
	backend := setupTestBackend(t)

	first := backend.connect(t, "guest")
	backend.connect(t, "guest")
	backend.connect(t, "other")

	eventually(t, func() bool { return backend.hub.ClientCount() == 3 }, "three clients")
	if got := backend.hub.UserClientCount("guest"); got != 2 {
		t.Errorf("Expected 2 guest connections, got %d", got)
	}
	eventually(t, func() bool { return testutil.ToFloat64(backend.metrics.ActiveConnections) == 3 }, "gauge at 3")

	first.Close()
	eventually(t, func() bool { return backend.hub.UserClientCount("guest") == 1 }, "guest to unregister")
	if got := backend.hub.ClientCount(); got != 2 {
		t.Errorf("Expected 2 clients, got %d", got)
	}
}

func TestDialWithoutUserID(t *testing.T) {
	backend := setupTestBackend(t)

	_, err := backend.dialer.Dial(context.Background(), "")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("Expected the 400 status in %q", err.Error())
	}
}

func TestExpireRecordings(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	send(t, channel, protocol.StartRecording{UserID: "guest"})
	receive(t, channel)

	if got := backend.hub.ExpireRecordings(time.Hour); got != 0 {
		t.Errorf("Expected a fresh recording to survive, expired %d", got)
	}

	time.Sleep(5 * time.Millisecond)
	if got := backend.hub.ExpireRecordings(time.Millisecond); got != 1 {
		t.Fatalf("Expected 1 expired recording, got %d", got)
	}
	expectError(t, channel, "Recording timed out")

	send(t, channel, protocol.StopRecording{UserID: "guest"})
	expectError(t, channel, "No active recording")
}

func TestHubStopClosesClients(t *testing.T) {
	logger := zap.NewNop()
	hub := NewHub(nil, metrics.NewNop(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestVoiceURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{"http", "http://localhost:8000", "ws://localhost:8000/ws/voice", false},
		{"https with path", "https://example.com/travel/", "wss://example.com/travel/ws/voice", false},
		{"ws passthrough", "ws://127.0.0.1:9000", "ws://127.0.0.1:9000/ws/voice", false},
		{"query dropped", "http://localhost:8000/?debug=1", "ws://localhost:8000/ws/voice", false},
		{"unsupported scheme", "ftp://localhost", "", true},
		{"no host", "http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VoiceURL(tt.baseURL)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("VoiceURL failed: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

type countingExpirer struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
}

func (e *countingExpirer) ExpireRecordings(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.maxAge = maxAge
	return 1
}

func (e *countingExpirer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestRecordingSweeper(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper := NewRecordingSweeper(expirer, 2*time.Minute, zap.NewNop())

	if sweeper.interval != 30*time.Second {
		t.Errorf("Expected interval 30s, got %v", sweeper.interval)
	}

	sweeper.sweep()
	if expirer.count() != 1 || expirer.maxAge != 2*time.Minute {
		t.Errorf("Expected one sweep with maxAge 2m, got %d calls with %v", expirer.count(), expirer.maxAge)
	}

	short := NewRecordingSweeper(expirer, 100*time.Millisecond, zap.NewNop())
	if short.interval != time.Second {
		t.Errorf("Expected the interval floor of 1s, got %v", short.interval)
	}

	short.Start()
	deadline := time.Now().Add(3 * time.Second)
	for expirer.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	short.Stop()

	if expirer.count() < 2 {
		t.Error("Expected the background sweep to run")
	}
}

func TestWriteTimeoutEndsInbound(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Never read, so the client's writes back up.
		<-release
	}))
	defer server.Close()
	defer close(release)

	endpoint, err := VoiceURL(server.URL)
	if err != nil {
		t.Fatalf("VoiceURL failed: %v", err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(endpoint.String(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	conn := newConnWithWriteWait(ws, 200*time.Millisecond, zap.NewNop())
	defer conn.Close()

	frame := make([]byte, 1<<20)
	for i := 0; i < 64; i++ {
		if err := conn.Send(frame); err != nil {
			break
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-conn.Inbound():
			if ok {
				continue
			}
			if !errors.Is(conn.Err(), domain.ErrTransport) {
				t.Errorf("Expected a transport error, got %v", conn.Err())
			}
			return
		case <-deadline:
			t.Fatalf("Inbound still open after the write failed: %v", conn.Err())
		}
	}
}

func TestExpireRecordingsSparesRestartedRecording(t *testing.T) {
	backend := setupTestBackend(t)
	channel := backend.connect(t, "guest")

	send(t, channel, protocol.StartRecording{UserID: "guest"})
	receive(t, channel)

	eventually(t, func() bool { return backend.hub.ClientCount() == 1 }, "client to register")
	backend.hub.mu.RLock()
	var client *Client
	for _, c := range backend.hub.clients {
		client = c
	}
	backend.hub.mu.RUnlock()

	// Age the first recording past the limit, then restart it.
	client.mu.Lock()
	client.recordingStart = time.Now().Add(-time.Hour)
	client.mu.Unlock()

	send(t, channel, protocol.StartRecording{UserID: "guest"})
	if info, ok := receive(t, channel).(protocol.Info); !ok || info.Message != "Recording started" {
		t.Fatalf("Expected the restart to be acknowledged, got %+v", info)
	}

	if got := backend.hub.ExpireRecordings(time.Minute); got != 0 {
		t.Fatalf("Expected the restarted recording to survive, expired %d", got)
	}

	send(t, channel, protocol.StopRecording{UserID: "guest"})
	if _, ok := receive(t, channel).(protocol.Transcription); !ok {
		t.Error("Expected the restarted recording to be answered")
	}
}
