// Command travelbuddy talks to the TravelBuddy backend by voice or text.
//
//	travelbuddy chat <message...>
//	travelbuddy voice [-wav file] [-duration d] [-text message]
//
// Without -wav, voice reads raw 16-bit PCM from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/adapters/audio"
	"github.com/satriahrh/travelbuddy/adapters/chat"
	"github.com/satriahrh/travelbuddy/domain/entities"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/config"
	"github.com/satriahrh/travelbuddy/internal/logging"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/websocket"
	"github.com/satriahrh/travelbuddy/usecase"
)

// Time to wait for audio_response once the reply text arrived
const audioWait = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one subcommand and returns the process exit code. Deferred
// cleanup finishes before main exits.
func run(args []string) int {
	if len(args) < 1 || (args[0] != "chat" && args[0] != "voice") {
		usage()
		return 2
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Level, cfg.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer stopMetrics()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "chat" {
		err = runChat(ctx, cfg, args[1:], m, logger)
	} else {
		err = runVoice(ctx, cfg, args[1:], m, logger)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: travelbuddy chat <message...>")
	fmt.Fprintln(os.Stderr, "       travelbuddy voice [-wav file] [-duration d] [-text message]")
}

func runChat(ctx context.Context, cfg *config.Client, args []string, m *metrics.Metrics, logger *zap.Logger) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return errors.New("chat needs a message")
	}

	client, err := chat.NewClient(cfg.BaseURL, cfg.ChatTimeout, m, logger)
	if err != nil {
		return err
	}

	// The reply is displayable even when err is set.
	reply, err := client.Send(ctx, message, cfg.UserID)
	printReply(os.Stdout, reply)
	return err
}

func runVoice(ctx context.Context, cfg *config.Client, args []string, m *metrics.Metrics, logger *zap.Logger) error {
	fs := flag.NewFlagSet("voice", flag.ContinueOnError)
	wavPath := fs.String("wav", "", "replay a 16-bit PCM WAV file instead of reading stdin")
	duration := fs.Duration("duration", 0, "stop recording after this long; 0 records until the input ends")
	text := fs.String("text", "", "send typed text over the voice channel instead of recording")
	replyWait := fs.Duration("wait", time.Minute, "how long to wait for the reply")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var mic repositories.Microphone = audio.StreamMicrophone{
		Reader: os.Stdin,
		Format: repositories.AudioFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BitsPerSample: 16},
	}
	if *wavPath != "" {
		mic = audio.WAVFileMicrophone{Path: *wavPath}
	}

	speaker := &notifyingSpeaker{Speaker: newSpeaker(cfg, logger), played: make(chan struct{}, 1)}
	playback := audio.NewPlayback(speaker, logger)

	dialer, err := websocket.NewDialer(cfg.BaseURL, logger)
	if err != nil {
		return err
	}

	session := usecase.NewVoiceSession(
		cfg.UserID,
		dialer,
		audio.NewCapture(mic, cfg.ChunkInterval, logger),
		playback,
		m,
		logger,
		usecase.WithConnectTimeout(cfg.ConnectTimeout),
	)
	defer playback.Wait()
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return err
	}

	if *text != "" {
		if err := session.SendText(*text); err != nil {
			return err
		}
		return waitForEvent(ctx, session, *replyWait, isReply)
	}

	if err := session.StartRecording(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Recording... press Ctrl+C to stop early")

	if err := record(ctx, session, *duration); err != nil {
		return err
	}
	if _, rec := session.State(); rec == entities.RecordingActive {
		if err := session.StopRecording(); err != nil {
			return err
		}
	}

	if err := waitForEvent(context.Background(), session, *replyWait, isReply); err != nil {
		return err
	}

	select {
	case <-speaker.played:
	case <-time.After(audioWait):
		logger.Info("No audio response received")
	}
	return nil
}

// record waits until the recording should stop: after d, when the input
// ends or when the user interrupts
func record(ctx context.Context, session *usecase.VoiceSession, d time.Duration) error {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	// Events queued while connecting still report an idle recording.
	started := false
	for {
		select {
		case <-timeout:
			return nil
		case <-ctx.Done():
			return nil
		case ev := <-session.Events():
			printEvent(os.Stdout, ev)
			if err := disconnected(ev); err != nil {
				return err
			}
			state, ok := ev.(usecase.StateChanged)
			if !ok {
				continue
			}
			switch state.Recording {
			case entities.RecordingActive:
				started = true
			case entities.RecordingIdle:
				if started {
					return nil
				}
			}
		}
	}
}

// waitForEvent prints events until done reports true
func waitForEvent(ctx context.Context, session *usecase.VoiceSession, timeout time.Duration, done func(usecase.Event) bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("no reply within %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-session.Events():
			printEvent(os.Stdout, ev)
			if done(ev) {
				return nil
			}
			if err := disconnected(ev); err != nil {
				return err
			}
		}
	}
}

func isReply(ev usecase.Event) bool {
	_, ok := ev.(usecase.ReplyReceived)
	return ok
}

func disconnected(ev usecase.Event) error {
	if state, ok := ev.(usecase.StateChanged); ok && state.Connection == entities.ConnectionDisconnected {
		return errors.New("voice channel closed")
	}
	return nil
}

func newSpeaker(cfg *config.Client, logger *zap.Logger) repositories.Speaker {
	if fields := strings.Fields(cfg.PlayerCommand); len(fields) > 0 {
		return audio.CommandSpeaker{Command: fields}
	}
	return audio.NewFileSpeaker(cfg.AudioOutputDir, logger)
}

// notifyingSpeaker signals after each clip it played
type notifyingSpeaker struct {
	repositories.Speaker
	played chan struct{}
}

func (s *notifyingSpeaker) Play(ctx context.Context, clip repositories.Clip) error {
	err := s.Speaker.Play(ctx, clip)
	select {
	case s.played <- struct{}{}:
	default:
	}
	return err
}

// serveMetrics exposes /metrics on addr and returns a function stopping it
func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) func() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}
}
