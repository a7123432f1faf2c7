package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/wonder/internal/commander"
	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
	modelpkg "github.com/stupiduntilnot/wonder/internal/model"
)

// ChatID is the chat (and user) every scripted update comes from.
const ChatID = 1

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "err", "sleep", "msg", "msgb64", "voice":
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action; the last one repeats once the script is
// exhausted.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sent is a message delivered through the dummy Commander.
type Sent struct {
	ChatID    int64
	MessageID int64
	Text      string
	Edited    bool
}

// Commander replays a poll script as inbound updates and a send script as
// delivery outcomes.
type Commander struct {
	mu        sync.Mutex
	poll      *scriptRunner
	send      *scriptRunner
	updateID  int64
	messageID int64
	sent      []Sent
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		return c.newUpdate(&cmdpkg.Message{Text: &a.arg}), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		text := string(raw)
		return c.newUpdate(&cmdpkg.Message{Text: &text}), nil
	case "voice":
		return c.newUpdate(&cmdpkg.Message{Voice: &cmdpkg.Voice{
			FileID:   emptyAs(a.arg, "dummy-voice"),
			Duration: 1,
			MIMEType: "audio/ogg",
		}}), nil
	default:
		return nil, nil
	}
}

func (c *Commander) newUpdate(msg *cmdpkg.Message) []cmdpkg.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateID++
	msg.MessageID = c.updateID
	msg.From = &cmdpkg.User{ID: ChatID, FirstName: "dummy"}
	msg.Chat = cmdpkg.Chat{ID: ChatID}
	msg.Date = time.Now().Unix()
	return []cmdpkg.Update{{UpdateID: c.updateID, Message: msg}}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	if err := c.deliver(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageID++
	c.sent = append(c.sent, Sent{ChatID: chatID, MessageID: c.messageID, Text: text})
	return c.messageID, nil
}

func (c *Commander) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	if err := c.deliver(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChatID: chatID, MessageID: messageID, Text: text, Edited: true})
	return nil
}

// DownloadFile writes a fixed payload naming the file.
func (c *Commander) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "dummy-audio:"+fileID)
	return err
}

// Sent returns every delivered message and edit, in order.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Commander) deliver(ctx context.Context) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return sleep(ctx, a.arg)
	default:
		return nil
	}
}

// Provider answers chat completions from a script.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  [][]ctxpkg.Message
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls = append(p.calls, append([]ctxpkg.Message(nil), messages...))
	p.mu.Unlock()

	switch a.kind {
	case "ok":
		return completion(emptyAs(a.arg, "dummy-ok")), nil
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider: %w", err)
		}
		return completion("dummy-after-sleep"), nil
	case "msg":
		return completion(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return completion(string(raw)), nil
	default:
		return completion("dummy-ok"), nil
	}
}

// Calls returns the message lists received so far.
func (p *Provider) Calls() [][]ctxpkg.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]ctxpkg.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

func completion(content string) modelpkg.CompletionResponse {
	return modelpkg.CompletionResponse{
		Content:      content,
		InputTokens:  1,
		OutputTokens: 1,
	}
}

// Transcriber answers transcriptions from a script. "ok" echoes the audio
// payload so tests can tell voice notes apart.
type Transcriber struct {
	mu     sync.Mutex
	script *scriptRunner
	files  []string
}

func NewTranscriber(script string) (*Transcriber, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Transcriber{script: runner}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("dummy transcriber read failed: %w", err)
	}
	t.mu.Lock()
	a := t.script.next()
	t.files = append(t.files, filename)
	t.mu.Unlock()

	switch a.kind {
	case "err":
		return "", fmt.Errorf("dummy transcriber error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return "", fmt.Errorf("dummy transcriber: %w", err)
		}
		return "dummy transcript", nil
	case "msg":
		return a.arg, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return "", fmt.Errorf("dummy transcriber msgb64 decode failed: %w", err)
		}
		return string(raw), nil
	default:
		return emptyAs(string(data), "dummy transcript"), nil
	}
}

// Files returns the filenames passed to Transcribe so far.
func (t *Transcriber) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.files...)
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
