package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/errors"
)

// WhisperProvider transcribes utterances through a Whisper-compatible HTTP
// endpoint (OpenAI's hosted API or a local whisper server)
type WhisperProvider struct {
	logger     *logrus.Logger
	httpClient *http.Client

	baseURL string
	apiKey  string
	model   string
}

type whisperResponse struct {
	Text string `json:"text"`
}

// NewWhisperProvider creates a Whisper recognizer. An empty baseURL selects
// the OpenAI hosted endpoint.
func NewWhisperProvider(logger *logrus.Logger, baseURL, model string) *WhisperProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "whisper-1"
	}

	return &WhisperProvider{
		logger:  logger,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Initialize checks for API credentials
func (p *WhisperProvider) Initialize() error {
	p.apiKey = os.Getenv("OPENAI_API_KEY")
	if p.apiKey == "" {
		return errors.New("OPENAI_API_KEY environment variable not set")
	}
	return nil
}

// Name returns the provider name
func (p *WhisperProvider) Name() string {
	return "whisper"
}

// Recognize posts the utterance as a WAV file and returns the transcript
func (p *WhisperProvider) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	wav := EncodeWAV(pcm, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create multipart form")
	}
	if _, err := part.Write(wav); err != nil {
		return Result{}, errors.Wrap(err, "failed to write audio payload")
	}
	if err := writer.WriteField("model", p.model); err != nil {
		return Result{}, errors.Wrap(err, "failed to write model field")
	}
	if err := writer.Close(); err != nil {
		return Result{}, errors.Wrap(err, "failed to finalize multipart form")
	}

	url := p.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create transcription request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(errors.ErrRecognitionFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"detail": string(detail),
		}).Error("Whisper transcription request rejected")
		return Result{}, errors.Wrap(errors.ErrRecognitionFailed,
			fmt.Sprintf("transcription endpoint returned status %d", resp.StatusCode))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, errors.Wrap(errors.ErrRecognitionFailed, "failed to decode transcription response")
	}

	// Whisper does not report per-utterance confidence over HTTP
	return Result{Text: parsed.Text, Confidence: 1.0}, nil
}
