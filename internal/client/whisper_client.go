package client

import (
	"context"
	"net/http"
	"time"

	"github.com/cogniscribe/api/internal/config"
	"github.com/cogniscribe/api/internal/model"
)

// Transcriber defines the interface for the speech-to-text engine.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)
}

// WhisperClient talks to the Whisper transcription microservice.
type WhisperClient struct {
	httpClient *http.Client
	baseURL    string
}

// TranscribeRequest identifies the normalized audio to transcribe.
type TranscribeRequest struct {
	AudioPath string `json:"audio_path"`
}

// TranscribeResponse is the full transcription with segment timestamps.
type TranscribeResponse struct {
	Text     string          `json:"text"`
	Segments []model.Segment `json:"segments"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
}

// NewWhisperClient creates a new transcription client.
func NewWhisperClient(cfg *config.WhisperConfig) *WhisperClient {
	return &WhisperClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Transcribe converts the audio at the given path into text with
// segment timestamps and a detected language.
func (c *WhisperClient) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	var result TranscribeResponse
	if err := postJSON(ctx, c.httpClient, "transcribe", c.baseURL+"/transcribe", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
