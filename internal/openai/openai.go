package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
	modelpkg "github.com/stupiduntilnot/wonder/internal/model"
)

// Default models.
const (
	DefaultChatModel          = "gpt-4o-mini"
	DefaultTranscriptionModel = "whisper-1"
)

// Client is a minimal OpenAI chat completions and transcription client.
type Client struct {
	apiKey             string
	baseURL            string
	model              string
	transcriptionModel string
	httpClient         *http.Client
}

// NewClient creates an OpenAI client for the API rooted at baseURL
// (e.g. "https://api.openai.com/v1").
func NewClient(apiKey, baseURL, model, transcriptionModel string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultChatModel
	}
	if transcriptionModel == "" {
		transcriptionModel = DefaultTranscriptionModel
	}
	return &Client{
		apiKey:             apiKey,
		baseURL:            strings.TrimRight(baseURL, "/"),
		model:              model,
		transcriptionModel: transcriptionModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// ChatCompletion sends a chat completion request and returns the first choice.
// A response without a usable choice is an error.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: make([]chatMessage, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	body, err := c.post(ctx, "/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return modelpkg.CompletionResponse{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return modelpkg.CompletionResponse{}, fmt.Errorf("failed to parse openai response: %s", truncate(string(body), 400))
	}

	result := modelpkg.CompletionResponse{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) == 0 {
		return result, fmt.Errorf("openai response has no choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return result, fmt.Errorf("openai response has empty content")
	}
	result.Content = content
	return result, nil
}

// Transcribe uploads audio to the transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("model", c.transcriptionModel); err != nil {
		return "", fmt.Errorf("failed to build openai transcription form: %w", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build openai transcription form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to read audio for openai transcription: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to build openai transcription form: %w", err)
	}

	body, err := c.post(ctx, "/audio/transcriptions", form.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse openai transcription: %s", truncate(string(body), 400))
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", fmt.Errorf("openai transcription is empty")
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading openai response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai non-success status=%d body=%s", resp.StatusCode, truncate(string(body), 400))
	}
	return body, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
