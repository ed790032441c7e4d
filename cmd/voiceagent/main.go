package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/audio"
	"voiceagent-server/pkg/config"
	http_server "voiceagent-server/pkg/http"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/messaging"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/session"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
	"voiceagent-server/pkg/tts"
)

var logger = logrus.New()

func main() {
	appConfig, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		logger.WithError(err).Fatal("Failed to configure logging")
	}
	appConfig.LogSummary(logger)

	metrics.Init(logger)

	sink, amqpClient := buildSink(appConfig)
	if amqpClient != nil {
		defer amqpClient.Disconnect()
	}

	sttManager, err := buildSTT(appConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize speech recognition")
	}

	synthesizer := tts.NewEngineProvider(logger, tts.EngineConfig{
		URL:        appConfig.TTS.EngineURL,
		Voice:      appConfig.TTS.Voice,
		Speed:      appConfig.TTS.Speed,
		SampleRate: appConfig.TTS.SampleRate,
		Timeout:    appConfig.TTS.Timeout,
	})
	if err := synthesizer.Initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize speech synthesis")
	}

	agentClient := agent.NewClient(logger, agent.ClientConfig{
		URL:            appConfig.Agent.URL,
		Timeout:        appConfig.Agent.Timeout,
		MaxRetries:     uint64(appConfig.Agent.MaxRetries),
		InitialBackoff: appConfig.Agent.InitialBackoff,
	})

	// External booking and SMS integrations run inside the agent service.
	// The in-memory implementations keep tool calls answerable locally.
	registry := tools.NewRegistry(logger, appConfig.Tools.Timeout,
		tools.Builtin(logger, tools.NewMockCalendar(), tools.NewMockMessenger(),
			tools.NewMockBookings(), tools.NewMockCallControl(), nil)...)

	manager := session.NewManager(logger, session.ManagerConfig{
		CleanupInterval: appConfig.Session.CleanupInterval,
		MaxCallDuration: appConfig.Session.MaxCallDuration,
	}, buildDependencies(appConfig, sttManager, agentClient, registry, synthesizer, sink))

	httpServer := http_server.NewServer(logger, appConfig.HTTP, manager)
	httpServer.Start()

	logger.WithField("port", appConfig.HTTP.Port).Info("Voice agent server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	manager.Shutdown()

	logger.Info("Shutdown complete")
}

// buildSink returns the outcome/transcript sink. Without an AMQP URL the
// server runs with a no-op sink and calls are not published anywhere.
func buildSink(appConfig *config.Config) (messaging.Sink, *messaging.AMQPClient) {
	if appConfig.Messaging.AMQPUrl == "" {
		logger.Info("AMQP_URL not set, call outcomes will not be published")
		return messaging.NoopSink{}, nil
	}

	client := messaging.NewAMQPClient(logger, messaging.AMQPConfig{
		URL:             appConfig.Messaging.AMQPUrl,
		OutcomeQueue:    appConfig.Messaging.OutcomeQueue,
		TranscriptQueue: appConfig.Messaging.TranscriptQueue,
		ExchangeName:    appConfig.Messaging.ExchangeName,
	})

	if err := client.Connect(); err != nil {
		logger.WithError(err).Warn("Initial AMQP connection failed, continuing with reconnection in background")
	}

	return client, client
}

func buildSTT(appConfig *config.Config) (*stt.ProviderManager, error) {
	manager := stt.NewProviderManager(logger, appConfig.STT.Provider)

	var provider stt.Recognizer
	switch appConfig.STT.Provider {
	case "whisper":
		provider = stt.NewWhisperProvider(logger, appConfig.STT.WhisperURL, appConfig.STT.WhisperModel)
	case "google":
		provider = stt.NewGoogleProvider(logger, appConfig.STT.GoogleLanguage)
	default:
		provider = stt.NewMockProvider(logger)
	}

	if err := manager.RegisterProvider(provider); err != nil {
		return nil, err
	}

	return manager, nil
}

func buildDependencies(appConfig *config.Config, sttManager *stt.ProviderManager,
	agentService agent.Service, registry *tools.Registry,
	synthesizer tts.Synthesizer, sink messaging.Sink) session.Dependencies {

	segmenterConfig := stt.DefaultSegmenterConfig()
	segmenterConfig.SilenceDuration = appConfig.STT.SilenceDuration
	segmenterConfig.MinUtterance = appConfig.STT.MinUtterance
	segmenterConfig.MaxUtterance = appConfig.STT.MaxUtterance
	segmenterConfig.Provider = appConfig.STT.Provider
	segmenterConfig.QueueSize = appConfig.STT.QueueSize

	vadConfig := audio.DefaultConfig()
	vadConfig.BaseThreshold = appConfig.Audio.BaseThreshold
	vadConfig.HoldFrames = appConfig.Audio.HoldFrames
	vadConfig.Multiplier = appConfig.Audio.Multiplier

	streamerConfig := tts.DefaultStreamerConfig()
	streamerConfig.FrameDuration = appConfig.Media.FrameDuration
	streamerConfig.MaxChunkChars = appConfig.TTS.MaxChunkChars
	if appConfig.TTS.ApologyText != "" {
		streamerConfig.ApologyText = appConfig.TTS.ApologyText
	}

	transportConfig := media.DefaultTransportConfig()
	transportConfig.SendQueueSize = appConfig.Media.SendQueueSize
	transportConfig.OutboundSampleRate = appConfig.Media.OutboundSampleRate
	transportConfig.FrameDuration = appConfig.Media.FrameDuration
	transportConfig.MaxGapFrames = appConfig.Media.MaxGapFrames

	coordinatorConfig := session.DefaultCoordinatorConfig()
	coordinatorConfig.Greeting = appConfig.Session.Greeting
	coordinatorConfig.EchoCooldown = appConfig.Session.EchoCooldown
	coordinatorConfig.BargeInFrames = appConfig.Session.BargeInFrames
	if appConfig.Session.RepromptText != "" {
		coordinatorConfig.RepromptText = appConfig.Session.RepromptText
	}
	if appConfig.Session.AgentDownText != "" {
		coordinatorConfig.AgentDownText = appConfig.Session.AgentDownText
	}

	return session.Dependencies{
		STTManager:        sttManager,
		SegmenterConfig:   segmenterConfig,
		VADConfig:         vadConfig,
		AgentService:      agentService,
		Registry:          registry,
		Synthesizer:       synthesizer,
		StreamerConfig:    streamerConfig,
		TransportConfig:   transportConfig,
		CoordinatorConfig: coordinatorConfig,
		Sink:              sink,
	}
}
