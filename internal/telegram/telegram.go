package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/wonder/internal/commander"
)

// MaxMessageChars is the longest text sent in one message. Telegram rejects
// texts above 4096 characters; the margin leaves room for entity expansion.
const MaxMessageChars = 3900

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	fileBase   string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>") and file download base
// (e.g. "https://api.telegram.org/file/bot<token>").
func NewClient(apiBase, fileBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase:  strings.TrimRight(apiBase, "/"),
		fileBase: strings.TrimRight(fileBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type fileInfo struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// GetUpdates calls the getUpdates API.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	result, err := c.call(ctx, http.MethodGet, "getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse telegram getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat and returns its id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	result, err := c.call(ctx, http.MethodPost, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    truncate(text, MaxMessageChars),
	})
	if err != nil {
		return 0, err
	}
	var sent sentMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return 0, fmt.Errorf("failed to parse telegram sendMessage result: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text of a message previously sent by the bot.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := c.call(ctx, http.MethodPost, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       truncate(text, MaxMessageChars),
	})
	return err
}

// DownloadFile resolves fileID through getFile and streams its content to w.
func (c *Client) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	result, err := c.call(ctx, http.MethodPost, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return err
	}
	var info fileInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return fmt.Errorf("failed to parse telegram getFile result: %w", err)
	}
	if info.FilePath == "" {
		return fmt.Errorf("telegram getFile returned no file_path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+info.FilePath, nil)
	if err != nil {
		return fmt.Errorf("failed to create telegram download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram file download status=%d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("telegram file download interrupted: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, httpMethod, method string, payload map[string]any) (json.RawMessage, error) {
	name := method
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal telegram %s payload: %w", name, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.apiBase+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram %s request: %w", name, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram %s response: %w", name, err)
	}

	var tgResp Response
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse telegram %s response status=%d: %w", name, resp.StatusCode, err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("telegram %s rejected code=%d: %s", name, tgResp.ErrorCode, tgResp.Description)
	}
	return tgResp.Result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
