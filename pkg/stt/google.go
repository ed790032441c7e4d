package stt

import (
	"context"
	"os"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"voiceagent-server/pkg/errors"
)

// GoogleProvider transcribes utterances with the Google Cloud Speech-to-Text
// API using synchronous recognition, which is a good fit for utterances
// already bounded by voice activity detection
type GoogleProvider struct {
	logger *logrus.Logger
	client *speech.Client

	languageCode string
	model        string
}

// NewGoogleProvider creates a Google Speech-to-Text recognizer
func NewGoogleProvider(logger *logrus.Logger, languageCode string) *GoogleProvider {
	if languageCode == "" {
		languageCode = "en-US"
	}

	return &GoogleProvider{
		logger:       logger,
		languageCode: languageCode,
		model:        "phone_call",
	}
}

// Initialize creates the API client from ambient credentials
func (p *GoogleProvider) Initialize() error {
	ctx := context.Background()

	var opts []option.ClientOption
	if apiKey := os.Getenv("GOOGLE_SPEECH_API_KEY"); apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	} else {
		return errors.New("neither GOOGLE_SPEECH_API_KEY nor GOOGLE_APPLICATION_CREDENTIALS is set")
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to create Google Speech client")
	}
	p.client = client

	return nil
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Recognize transcribes one utterance of linear PCM
func (p *GoogleProvider) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	if p.client == nil {
		return Result{}, errors.New("google provider not initialized")
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    p.languageCode,
			Model:           p.model,
			UseEnhanced:     true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return Result{}, errors.Wrap(errors.ErrRecognitionFailed, err.Error())
	}

	var (
		text       string
		confidence float64
		weight     float64
	)
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		if text != "" {
			text += " "
		}
		text += alt.Transcript
		confidence += float64(alt.Confidence)
		weight++
	}
	if weight > 0 {
		confidence /= weight
	}

	return Result{Text: text, Confidence: confidence}, nil
}

// Close releases the underlying API client
func (p *GoogleProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
