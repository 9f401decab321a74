package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/config"
)

// Summarizer defines the interface for the text-generation engine.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummarizeRequest) (*SummarizeResponse, error)
}

// OllamaClient generates structured study notes via an Ollama-compatible
// /api/generate endpoint.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// SummarizeRequest carries the transcript and the compression settings.
type SummarizeRequest struct {
	Transcript string
	Ratio      float64
	Subject    string
}

// SummarizeResponse is the generated summary text.
type SummarizeResponse struct {
	Summary string
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewOllamaClient creates a new summarizer client.
func NewOllamaClient(cfg *config.SummarizerConfig) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
	}
}

// Summarize compresses the transcript into structured notes. The token
// budget scales with the transcript length and the requested ratio.
func (c *OllamaClient) Summarize(ctx context.Context, req *SummarizeRequest) (*SummarizeResponse, error) {
	words := len(strings.Fields(req.Transcript))
	maxTokens := int(float64(words) * req.Ratio * 1.8)
	if maxTokens < 64 {
		maxTokens = 64
	}

	genReq := &generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(req.Transcript, req.Subject),
		Stream: false,
		Options: generateOptions{
			Temperature: 0.2,
			MaxTokens:   maxTokens,
		},
	}

	var genResp generateResponse
	if err := postJSON(ctx, c.httpClient, "summarize", c.baseURL+"/api/generate", genReq, &genResp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(genResp.Response) == "" {
		return nil, apperr.Dependency("summarize", false, fmt.Errorf("model returned empty summary"))
	}

	return &SummarizeResponse{Summary: genResp.Response}, nil
}

func buildPrompt(transcript, subject string) string {
	var b strings.Builder
	b.WriteString("You are CogniScribe. Generate structured study notes from a lecture transcript.\n\n")
	if subject != "" {
		b.WriteString("Subject area: ")
		b.WriteString(subject)
		b.WriteString("\n\n")
	}
	b.WriteString("### Learning Objectives\n")
	b.WriteString("### Core Concepts\n")
	b.WriteString("### Key Terms\n")
	b.WriteString("### Final Summary\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}
