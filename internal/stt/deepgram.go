package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient implements the Client interface using Deepgram's pre-recorded API.
type DeepgramClient struct {
	apiKey     string
	apiURL     string
	language   string
	model      string
	httpClient *http.Client
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey     string
	APIURL     string // Optional, defaults to the public listen endpoint
	Language   string // e.g., "en"
	Model      string // e.g., "nova-3"
	HTTPClient *http.Client
}

// deepgramResponse represents a Deepgram pre-recorded response.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewDeepgramClient creates a new Deepgram client.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	c := &DeepgramClient{
		apiKey:     cfg.APIKey,
		apiURL:     cfg.APIURL,
		language:   cfg.Language,
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
	}
	if c.apiURL == "" {
		c.apiURL = deepgramListenURL
	}
	if c.language == "" {
		c.language = "en"
	}
	if c.model == "" {
		c.model = "nova-3"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

func (c *DeepgramClient) requestURL() string {
	q := url.Values{}
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	return c.apiURL + "?" + q.Encode()
}

// Transcribe sends a WAV segment to Deepgram and returns the best transcript.
func (c *DeepgramClient) Transcribe(ctx context.Context, audio []byte) (TranscriptResult, error) {
	var result TranscriptResult
	if len(audio) == 0 {
		return result, fmt.Errorf("empty audio")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), bytes.NewReader(audio))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "audio/wav")
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return result, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return result, fmt.Errorf("Deepgram API error: %s - %s", resp.Status, string(respBody))
	}

	var dgResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dgResp); err != nil {
		return result, fmt.Errorf("failed to decode response: %w", err)
	}

	result.Duration = dgResp.Metadata.Duration
	if len(dgResp.Results.Channels) > 0 && len(dgResp.Results.Channels[0].Alternatives) > 0 {
		alt := dgResp.Results.Channels[0].Alternatives[0]
		result.Text = strings.TrimSpace(alt.Transcript)
		result.Confidence = alt.Confidence
	}
	if result.Text == "" {
		return result, ErrNoSpeech
	}
	return result, nil
}
