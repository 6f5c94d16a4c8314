// Package llamacpp talks to a llama.cpp server through its OpenAI-compatible
// chat completions endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/glyph-classifier/pkg/client"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

const completionsPath = "/v1/chat/completions"

// Client is a llama.cpp vision client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Message is one chat turn. Content is a string or a list of Parts.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// Part is a piece of multimodal message content
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Request is the chat completion request body
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

// ResponseFormat asks the server to constrain output, e.g. {"type":"json_object"}
type ResponseFormat struct {
	Type string `json:"type"`
}

// Response is the subset of the completion response the client reads
type Response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// NewClient creates a client for serverURL (default http://localhost:8080)
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// SimpleQuery sends a free-form prompt with an image and returns the raw answer
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.complete(ctx, Request{
		Model:       model,
		Messages:    []Message{userMessage(prompt, imgB64)},
		Temperature: 0.7,
		MaxTokens:   512,
	})
}

// ReadGlyph asks the model which character the image shows
func (c *Client) ReadGlyph(ctx context.Context, model, prompt, imgB64 string) (*types.GlyphReading, error) {
	text, err := c.complete(ctx, Request{
		Model:          model,
		Messages:       []Message{userMessage(prompt, imgB64)},
		MaxTokens:      64,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	return client.ParseGlyphReading(text), nil
}

func userMessage(prompt, imgB64 string) Message {
	parts := []Part{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, Part{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/png;base64," + imgB64},
		})
	}
	return Message{Role: "user", Content: parts}
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 120*time.Second)
		defer cancel()
	}

	var resp Response
	if err := c.post(ctx, completionsPath, req, &resp); err != nil {
		return "", fmt.Errorf("llama.cpp: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llama.cpp: no choices in response")
	}
	if text := contentText(resp.Choices[0].Message.Content); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("llama.cpp: empty response")
}

// contentText returns the first text found in a string or part-list content
func contentText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			part, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
