package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cogniscribe/api/internal/config"
)

// AudioPreprocessor defines the interface for audio normalization and
// noise reduction.
type AudioPreprocessor interface {
	Preprocess(ctx context.Context, req *PreprocessRequest) (*PreprocessResponse, error)
}

// PreprocessClient talks to the audio preprocessing microservice.
type PreprocessClient struct {
	httpClient *http.Client
	baseURL    string
	denoise    bool
}

// PreprocessRequest asks the service to normalize a raw upload.
type PreprocessRequest struct {
	InputPath string `json:"input_path"`
	Denoise   bool   `json:"denoise"`
}

// PreprocessResponse carries the cleaned audio path.
type PreprocessResponse struct {
	OutputPath string `json:"output_path"`
	Enhanced   bool   `json:"enhanced"`
	Enhancer   string `json:"enhancer,omitempty"`
}

// NewPreprocessClient creates a new preprocessing client.
func NewPreprocessClient(cfg *config.PreprocessConfig) *PreprocessClient {
	return &PreprocessClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
		denoise: cfg.Denoise,
	}
}

// Preprocess normalizes the input file and returns the cleaned path.
func (c *PreprocessClient) Preprocess(ctx context.Context, req *PreprocessRequest) (*PreprocessResponse, error) {
	var result PreprocessResponse
	if err := postJSON(ctx, c.httpClient, "preprocess", c.baseURL+"/preprocess", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DenoiseEnabled reports the configured default for noise reduction.
func (c *PreprocessClient) DenoiseEnabled() bool {
	return c.denoise
}

// postJSON sends a POST request with JSON body and parses the response.
// Shared by all collaborator clients.
func postJSON(ctx context.Context, httpClient *http.Client, service, url string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransportErr(service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportErr(service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(service, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", service, err)
	}
	return nil
}
