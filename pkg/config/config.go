package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voiceagent-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Media     MediaConfig     `json:"media"`
	Audio     AudioConfig     `json:"audio"`
	STT       STTConfig       `json:"stt"`
	Agent     AgentConfig     `json:"agent"`
	TTS       TTSConfig       `json:"tts"`
	Tools     ToolsConfig     `json:"tools"`
	Session   SessionConfig   `json:"session"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// MediaConfig holds media transport configuration
type MediaConfig struct {
	SendQueueSize      int           `json:"send_queue_size" env:"MEDIA_SEND_QUEUE_SIZE" default:"64"`
	OutboundSampleRate int           `json:"outbound_sample_rate" env:"MEDIA_OUTBOUND_SAMPLE_RATE" default:"24000"`
	FrameDuration      time.Duration `json:"frame_duration" env:"MEDIA_FRAME_DURATION" default:"20ms"`
	MaxGapFrames       int           `json:"max_gap_frames" env:"MEDIA_MAX_GAP_FRAMES" default:"50"`
}

// AudioConfig holds voice activity detection configuration
type AudioConfig struct {
	BaseThreshold float64 `json:"base_threshold" env:"VAD_BASE_THRESHOLD" default:"500"`
	HoldFrames    int     `json:"hold_frames" env:"VAD_HOLD_FRAMES" default:"10"`
	Multiplier    float64 `json:"multiplier" env:"VAD_MULTIPLIER" default:"1.5"`
}

// STTConfig holds speech-to-text configuration
type STTConfig struct {
	Provider        string        `json:"provider" env:"STT_PROVIDER" default:"whisper"`
	WhisperURL      string        `json:"whisper_url" env:"WHISPER_BASE_URL" default:"https://api.openai.com/v1"`
	WhisperModel    string        `json:"whisper_model" env:"WHISPER_MODEL" default:"whisper-1"`
	GoogleLanguage  string        `json:"google_language" env:"GOOGLE_SPEECH_LANGUAGE" default:"en-US"`
	SilenceDuration time.Duration `json:"silence_duration" env:"STT_SILENCE_DURATION" default:"700ms"`
	MinUtterance    time.Duration `json:"min_utterance" env:"STT_MIN_UTTERANCE" default:"300ms"`
	MaxUtterance    time.Duration `json:"max_utterance" env:"STT_MAX_UTTERANCE" default:"15s"`
	QueueSize       int           `json:"queue_size" env:"STT_QUEUE_SIZE" default:"4"`
}

// AgentConfig holds agent service configuration
type AgentConfig struct {
	URL            string        `json:"url" env:"AGENT_URL" default:"http://localhost:8000/respond"`
	Timeout        time.Duration `json:"timeout" env:"AGENT_TIMEOUT" default:"10s"`
	MaxRetries     int           `json:"max_retries" env:"AGENT_MAX_RETRIES" default:"1"`
	InitialBackoff time.Duration `json:"initial_backoff" env:"AGENT_INITIAL_BACKOFF" default:"500ms"`
}

// TTSConfig holds speech synthesis configuration
type TTSConfig struct {
	EngineURL     string        `json:"engine_url" env:"TTS_ENGINE_URL" default:"http://localhost:8880/synthesize"`
	Voice         string        `json:"voice" env:"TTS_VOICE" default:"am_adam"`
	Speed         float64       `json:"speed" env:"TTS_SPEED" default:"1.0"`
	SampleRate    int           `json:"sample_rate" env:"TTS_SAMPLE_RATE" default:"24000"`
	Timeout       time.Duration `json:"timeout" env:"TTS_TIMEOUT" default:"15s"`
	MaxChunkChars int           `json:"max_chunk_chars" env:"TTS_MAX_CHUNK_CHARS" default:"200"`
	ApologyText   string        `json:"apology_text" env:"TTS_APOLOGY_TEXT"`
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	Timeout time.Duration `json:"timeout" env:"TOOL_TIMEOUT" default:"8s"`
}

// SessionConfig holds per-call coordination configuration
type SessionConfig struct {
	Greeting        string        `json:"greeting" env:"SESSION_GREETING"`
	EchoCooldown    time.Duration `json:"echo_cooldown" env:"SESSION_ECHO_COOLDOWN" default:"3s"`
	BargeInFrames   int           `json:"barge_in_frames" env:"SESSION_BARGE_IN_FRAMES" default:"10"`
	RepromptText    string        `json:"reprompt_text" env:"SESSION_REPROMPT_TEXT"`
	AgentDownText   string        `json:"agent_down_text" env:"SESSION_AGENT_DOWN_TEXT"`
	MaxCallDuration time.Duration `json:"max_call_duration" env:"SESSION_MAX_CALL_DURATION" default:"30m"`
	CleanupInterval time.Duration `json:"cleanup_interval" env:"SESSION_CLEANUP_INTERVAL" default:"30s"`
}

// MessagingConfig holds AMQP messaging configuration
type MessagingConfig struct {
	AMQPUrl         string `json:"amqp_url" env:"AMQP_URL"`
	OutcomeQueue    string `json:"outcome_queue" env:"AMQP_OUTCOME_QUEUE" default:"voiceagent.outcomes"`
	TranscriptQueue string `json:"transcript_queue" env:"AMQP_TRANSCRIPT_QUEUE" default:"voiceagent.transcripts"`
	ExchangeName    string `json:"exchange_name" env:"AMQP_EXCHANGE_NAME"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// Load loads the application configuration from environment variables,
// trying .env files in a few likely locations first
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	loadMediaConfig(&config.Media)
	loadAudioConfig(&config.Audio)

	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load STT configuration")
	}

	loadAgentConfig(&config.Agent)
	loadTTSConfig(&config.TTS)
	loadToolsConfig(&config.Tools)
	loadSessionConfig(&config.Session)
	loadMessagingConfig(&config.Messaging)
	loadLoggingConfig(&config.Logging)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	if config.Port < 1 || config.Port > 65535 {
		return errors.New(fmt.Sprintf("HTTP_PORT out of range: %d", config.Port))
	}

	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)

	return nil
}

func loadMediaConfig(config *MediaConfig) {
	config.SendQueueSize = getEnvInt("MEDIA_SEND_QUEUE_SIZE", 64)
	config.OutboundSampleRate = getEnvInt("MEDIA_OUTBOUND_SAMPLE_RATE", 24000)
	config.FrameDuration = getEnvDuration("MEDIA_FRAME_DURATION", 20*time.Millisecond)
	config.MaxGapFrames = getEnvInt("MEDIA_MAX_GAP_FRAMES", 50)
}

func loadAudioConfig(config *AudioConfig) {
	config.BaseThreshold = getEnvFloat("VAD_BASE_THRESHOLD", 500)
	config.HoldFrames = getEnvInt("VAD_HOLD_FRAMES", 10)
	config.Multiplier = getEnvFloat("VAD_MULTIPLIER", 1.5)
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	config.Provider = strings.ToLower(getEnv("STT_PROVIDER", "whisper"))

	switch config.Provider {
	case "whisper", "google", "mock":
		// supported
	default:
		return errors.New(fmt.Sprintf("unsupported STT_PROVIDER: %s", config.Provider))
	}

	config.WhisperURL = getEnv("WHISPER_BASE_URL", "https://api.openai.com/v1")
	config.WhisperModel = getEnv("WHISPER_MODEL", "whisper-1")
	config.GoogleLanguage = getEnv("GOOGLE_SPEECH_LANGUAGE", "en-US")
	config.SilenceDuration = getEnvDuration("STT_SILENCE_DURATION", 700*time.Millisecond)
	config.MinUtterance = getEnvDuration("STT_MIN_UTTERANCE", 300*time.Millisecond)
	config.MaxUtterance = getEnvDuration("STT_MAX_UTTERANCE", 15*time.Second)
	config.QueueSize = getEnvInt("STT_QUEUE_SIZE", 4)

	if config.Provider == "whisper" && os.Getenv("OPENAI_API_KEY") == "" {
		logger.Warn("STT_PROVIDER is whisper but OPENAI_API_KEY is not set")
	}

	return nil
}

func loadAgentConfig(config *AgentConfig) {
	config.URL = getEnv("AGENT_URL", "http://localhost:8000/respond")
	config.Timeout = getEnvDuration("AGENT_TIMEOUT", 10*time.Second)
	config.MaxRetries = getEnvInt("AGENT_MAX_RETRIES", 1)
	config.InitialBackoff = getEnvDuration("AGENT_INITIAL_BACKOFF", 500*time.Millisecond)
}

func loadTTSConfig(config *TTSConfig) {
	config.EngineURL = getEnv("TTS_ENGINE_URL", "http://localhost:8880/synthesize")
	config.Voice = getEnv("TTS_VOICE", "am_adam")
	config.Speed = getEnvFloat("TTS_SPEED", 1.0)
	config.SampleRate = getEnvInt("TTS_SAMPLE_RATE", 24000)
	config.Timeout = getEnvDuration("TTS_TIMEOUT", 15*time.Second)
	config.MaxChunkChars = getEnvInt("TTS_MAX_CHUNK_CHARS", 200)
	config.ApologyText = getEnv("TTS_APOLOGY_TEXT", "")
}

func loadToolsConfig(config *ToolsConfig) {
	config.Timeout = getEnvDuration("TOOL_TIMEOUT", 8*time.Second)
}

func loadSessionConfig(config *SessionConfig) {
	config.Greeting = getEnv("SESSION_GREETING", "")
	config.EchoCooldown = getEnvDuration("SESSION_ECHO_COOLDOWN", 3*time.Second)
	config.BargeInFrames = getEnvInt("SESSION_BARGE_IN_FRAMES", 10)
	config.RepromptText = getEnv("SESSION_REPROMPT_TEXT", "")
	config.AgentDownText = getEnv("SESSION_AGENT_DOWN_TEXT", "")
	config.MaxCallDuration = getEnvDuration("SESSION_MAX_CALL_DURATION", 30*time.Minute)
	config.CleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 30*time.Second)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.OutcomeQueue = getEnv("AMQP_OUTCOME_QUEUE", "voiceagent.outcomes")
	config.TranscriptQueue = getEnv("AMQP_TRANSCRIPT_QUEUE", "voiceagent.transcripts")
	config.ExchangeName = getEnv("AMQP_EXCHANGE_NAME", "")
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	config.Format = strings.ToLower(getEnv("LOG_FORMAT", "json"))
	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")
}

// Validate checks cross-field constraints the per-section loaders cannot
func (c *Config) Validate() error {
	if c.Agent.URL == "" {
		return errors.New("AGENT_URL must not be empty")
	}
	if c.TTS.EngineURL == "" {
		return errors.New("TTS_ENGINE_URL must not be empty")
	}
	if c.STT.MinUtterance >= c.STT.MaxUtterance {
		return errors.New("STT_MIN_UTTERANCE must be shorter than STT_MAX_UTTERANCE")
	}
	if c.Session.BargeInFrames < 1 {
		return errors.New("SESSION_BARGE_IN_FRAMES must be at least 1")
	}
	if c.Media.SendQueueSize < 1 {
		return errors.New("MEDIA_SEND_QUEUE_SIZE must be at least 1")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	return nil
}

// ApplyLogging configures the logger from the logging section
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// LogSummary logs the effective configuration at startup, omitting secrets
func (c *Config) LogSummary(logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"http_port":         c.HTTP.Port,
		"stt_provider":      c.STT.Provider,
		"agent_url":         c.Agent.URL,
		"tts_engine_url":    c.TTS.EngineURL,
		"tts_sample_rate":   c.TTS.SampleRate,
		"amqp_enabled":      c.Messaging.AMQPUrl != "",
		"max_call_duration": c.Session.MaxCallDuration,
		"log_level":         c.Logging.Level,
	}).Info("Configuration loaded")
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
