// Command devserver runs a local /ws/voice and /api/chat backend for the
// travelbuddy client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/adapters"
	"github.com/satriahrh/travelbuddy/adapters/llm"
	"github.com/satriahrh/travelbuddy/adapters/stt"
	"github.com/satriahrh/travelbuddy/adapters/tts"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/api"
	"github.com/satriahrh/travelbuddy/internal/config"
	"github.com/satriahrh/travelbuddy/internal/logging"
	"github.com/satriahrh/travelbuddy/internal/metrics"
	"github.com/satriahrh/travelbuddy/internal/websocket"
	"github.com/satriahrh/travelbuddy/usecase"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Level, cfg.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	catalog := adapters.NewKeralaCatalog()
	languageModel := newLanguageModel(ctx, cfg, logger)
	speechToText := newSpeechToText(cfg, logger)
	textToSpeech := newTextToSpeech(cfg, logger)

	// Initialize usecase services
	chatService := usecase.NewChatService(catalog, languageModel, logger)
	conversationService := usecase.NewConversationService(
		speechToText,
		textToSpeech,
		chatService,
		repositories.AudioConfig{
			SampleRate: cfg.SampleRate,
			Encoding:   "LINEAR16",
			Language:   cfg.STTLanguage,
		},
		logger,
	)

	hub := websocket.NewHub(conversationService, m, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	sweeper := websocket.NewRecordingSweeper(hub, cfg.MaxRecording, logger)
	sweeper.Start()
	defer sweeper.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, conversationService, catalog, registry, logger)

	addr := ":" + strconv.Itoa(cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Development backend started", zap.String("addr", addr))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	stopHub()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLanguageModel(ctx context.Context, cfg *config.Server, logger *zap.Logger) repositories.LanguageModel {
	if cfg.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set, using scripted replies")
		return llm.NewMockAssistant()
	}

	assistant, err := llm.NewGeminiAssistant(ctx, llm.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, logger)
	if err != nil {
		logger.Warn("Gemini unavailable, using scripted replies", zap.Error(err))
		return llm.NewMockAssistant()
	}
	return assistant
}

func newSpeechToText(cfg *config.Server, logger *zap.Logger) repositories.SpeechToText {
	if cfg.GoogleSTTEnabled {
		logger.Info("Using Google Cloud speech recognition")
		return stt.NewGoogleSpeechToText(logger)
	}
	return stt.NewMockSpeechToText(logger)
}

func newTextToSpeech(cfg *config.Server, logger *zap.Logger) repositories.TextToSpeech {
	if cfg.ElevenLabsAPIKey == "" {
		return tts.NewToneTextToSpeech(logger)
	}

	synth, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
	}, logger)
	if err != nil {
		logger.Warn("Eleven Labs unavailable, using tones", zap.Error(err))
		return tts.NewToneTextToSpeech(logger)
	}
	return synth
}
