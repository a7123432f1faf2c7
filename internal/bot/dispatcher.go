package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	cmdpkg "github.com/stupiduntilnot/wonder/internal/commander"
	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
	"github.com/stupiduntilnot/wonder/internal/control"
	"github.com/stupiduntilnot/wonder/internal/db"
	modelpkg "github.com/stupiduntilnot/wonder/internal/model"
	"github.com/stupiduntilnot/wonder/internal/observability"
)

// voiceFilename tells the transcription API which container it receives.
const voiceFilename = "voice.ogg"

// Deps wires a Dispatcher. Store, Assembler, Logger and Policy fall back to
// defaults when left zero; Events and Metrics may be nil.
type Deps struct {
	Store        *ctxpkg.Store
	Assembler    ctxpkg.Assembler
	Provider     modelpkg.Provider
	Transcriber  modelpkg.Transcriber
	Commander    cmdpkg.Commander
	Events       *db.Recorder
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	SystemPrompt string
	Policy       control.Policy
	// TempDir holds downloaded voice notes; empty selects os.TempDir.
	TempDir string
	// ParentEventID roots the per-update events, usually the process.started event.
	ParentEventID int64
}

// Dispatcher turns inbound updates into replies. It holds no lock across
// external calls; the Store serializes only its own in-memory work.
type Dispatcher struct {
	store        *ctxpkg.Store
	assembler    ctxpkg.Assembler
	provider     modelpkg.Provider
	transcriber  modelpkg.Transcriber
	commander    cmdpkg.Commander
	events       *db.Recorder
	metrics      *observability.Metrics
	logger       *slog.Logger
	systemPrompt string
	policy       control.Policy
	tempDir      string
	parentEvent  int64
}

func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		store:        deps.Store,
		assembler:    deps.Assembler,
		provider:     deps.Provider,
		transcriber:  deps.Transcriber,
		commander:    deps.Commander,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		systemPrompt: deps.SystemPrompt,
		policy:       deps.Policy,
		tempDir:      deps.TempDir,
		parentEvent:  deps.ParentEventID,
	}
	if d.store == nil {
		d.store = ctxpkg.NewStore(ctxpkg.MaxHistory)
	}
	if d.assembler == nil {
		d.assembler = ctxpkg.NewTimeAwareAssembler()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	defaults := control.DefaultPolicy()
	if d.policy.CompletionTimeout <= 0 {
		d.policy.CompletionTimeout = defaults.CompletionTimeout
	}
	if d.policy.TranscriptionTimeout <= 0 {
		d.policy.TranscriptionTimeout = defaults.TranscriptionTimeout
	}
	return d
}

// Store returns the conversation store shared by all handlers.
func (d *Dispatcher) Store() *ctxpkg.Store {
	return d.store
}

type traceKey struct{}

type trace struct {
	id      string
	eventID int64
}

func withTrace(ctx context.Context, t trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) trace {
	t, _ := ctx.Value(traceKey{}).(trace)
	return t
}

func (d *Dispatcher) log(ctx context.Context) *slog.Logger {
	if t := traceFrom(ctx); t.id != "" {
		return d.logger.With("trace_id", t.id)
	}
	return d.logger
}

// event records an audit event under the current update, or under the
// process root outside of one.
func (d *Dispatcher) event(ctx context.Context, eventType string, payload map[string]any) int64 {
	t := traceFrom(ctx)
	parent := t.eventID
	if parent == 0 {
		parent = d.parentEvent
	}
	if t.id != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["trace_id"] = t.id
	}
	return d.events.Log(parent, eventType, payload)
}

// Handle classifies one update, runs its handler and delivers the reply.
// Ignored and duplicate updates return nil. Only a delivery failure is
// returned, as a *TransportError.
func (d *Dispatcher) Handle(ctx context.Context, u cmdpkg.Update) error {
	ev, ok := cmdpkg.Classify(u)
	if !ok {
		d.logger.Debug("ignoring update", "update_id", u.UpdateID)
		return nil
	}
	if !d.events.RecordUpdate(ev.UpdateID, ev.ChatID, ev.UserID, string(ev.Kind), ev.Date) {
		d.logger.Info("skipping duplicate update", "update_id", ev.UpdateID)
		return nil
	}

	t := trace{id: uuid.NewString()}
	t.eventID = d.events.Log(d.parentEvent, db.EventUpdateReceived, map[string]any{
		"trace_id":  t.id,
		"update_id": ev.UpdateID,
		"chat_id":   ev.ChatID,
		"user_id":   ev.UserID,
		"kind":      string(ev.Kind),
		"command":   string(ev.Command),
	})
	ctx = withTrace(ctx, t)
	d.metrics.IncUpdate(string(ev.Kind))
	d.log(ctx).Info("update received", "update_id", ev.UpdateID, "user_id", ev.UserID, "kind", ev.Kind)

	var reply string
	switch ev.Kind {
	case cmdpkg.KindCommand:
		switch ev.Command {
		case cmdpkg.CommandStart:
			reply = d.OnStart(ctx, ev.UserID)
		case cmdpkg.CommandHelp:
			reply = d.OnHelp(ev.UserID)
		case cmdpkg.CommandClear:
			reply = d.OnClear(ctx, ev.UserID)
		default:
			return fmt.Errorf("unhandled command %q", ev.Command)
		}
	case cmdpkg.KindText:
		reply = d.OnText(ctx, ev.UserID, ev.Text)
	case cmdpkg.KindVoice:
		reply = d.OnVoice(ctx, ev)
	default:
		return fmt.Errorf("unhandled event kind %q", ev.Kind)
	}

	return d.send(ctx, ev.ChatID, reply)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) error {
	if _, err := d.commander.SendMessage(ctx, chatID, text); err != nil {
		d.metrics.IncFailure(observability.FailureTransport)
		d.event(ctx, db.EventReplyFailed, map[string]any{
			"chat_id": chatID,
			"error":   truncate(err.Error(), 500),
		})
		return &TransportError{ChatID: chatID, Err: err}
	}
	d.event(ctx, db.EventReplySent, map[string]any{
		"chat_id": chatID,
		"chars":   len([]rune(text)),
	})
	return nil
}

// OnStart resets the user's conversation and greets them.
func (d *Dispatcher) OnStart(ctx context.Context, userID int64) string {
	d.clear(ctx, userID, "start")
	return GreetingText
}

// OnHelp describes what the bot can do.
func (d *Dispatcher) OnHelp(userID int64) string {
	return HelpText
}

// OnClear resets the user's conversation.
func (d *Dispatcher) OnClear(ctx context.Context, userID int64) string {
	d.clear(ctx, userID, "clear")
	return ClearedText
}

func (d *Dispatcher) clear(ctx context.Context, userID int64, reason string) {
	d.store.Clear(userID)
	d.event(ctx, db.EventHistoryCleared, map[string]any{"user_id": userID, "reason": reason})
}

// OnText answers a text message, or apologizes when the completion fails.
func (d *Dispatcher) OnText(ctx context.Context, userID int64, text string) string {
	reply, err := d.Process(ctx, userID, text)
	if err != nil {
		d.log(ctx).Warn("text message failed", "user_id", userID, "error", err)
		return TextApology
	}
	return reply
}

// OnVoice acknowledges a voice note, transcribes it, echoes the transcript
// and answers it like a text message. A failed transcription leaves the
// history untouched.
func (d *Dispatcher) OnVoice(ctx context.Context, ev cmdpkg.Event) string {
	progressID, err := d.commander.SendMessage(ctx, ev.ChatID, ProcessingText)
	if err != nil {
		d.log(ctx).Warn("voice acknowledgment failed", "chat_id", ev.ChatID, "error", err)
	}

	text, err := d.Transcribe(ctx, ev.Voice)
	if err != nil {
		d.metrics.IncFailure(observability.FailureTranscription)
		d.event(ctx, db.EventTranscriptionFailed, map[string]any{
			"user_id": ev.UserID,
			"error":   truncate(err.Error(), 500),
		})
		d.log(ctx).Warn("voice message failed", "user_id", ev.UserID, "error", err)
		return VoiceApology
	}
	d.event(ctx, db.EventTranscriptionCompleted, map[string]any{
		"user_id":          ev.UserID,
		"duration_seconds": ev.Voice.Duration,
		"chars":            len([]rune(text)),
	})

	if progressID != 0 {
		if err := d.commander.EditMessage(ctx, ev.ChatID, progressID, heardText(text)); err != nil {
			d.log(ctx).Warn("transcript echo failed", "chat_id", ev.ChatID, "error", err)
		}
	}

	reply, err := d.Process(ctx, ev.UserID, text)
	if err != nil {
		d.log(ctx).Warn("voice message failed", "user_id", ev.UserID, "error", err)
		return VoiceApology
	}
	return reply
}

// Transcribe downloads a voice note into a scoped temporary file and returns
// its transcript. The file is removed on every path. Failures are returned as
// *TranscriptionError.
func (d *Dispatcher) Transcribe(ctx context.Context, voice *cmdpkg.Voice) (string, error) {
	if voice == nil || voice.FileID == "" {
		return "", &TranscriptionError{Err: errors.New("message has no voice file")}
	}
	if d.transcriber == nil {
		return "", &TranscriptionError{Err: errors.New("no transcriber configured")}
	}

	tctx, cancel := control.WithTimeout(ctx, d.policy.TranscriptionTimeout)
	defer cancel()

	var text string
	err := withTempAudio(d.tempDir, func(f *os.File) error {
		if err := d.commander.DownloadFile(tctx, voice.FileID, f); err != nil {
			return fmt.Errorf("download voice %s: %w", voice.FileID, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind voice file: %w", err)
		}
		t, err := d.transcriber.Transcribe(tctx, voiceFilename, f)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(t)
		return nil
	})
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if text == "" {
		return "", &TranscriptionError{Err: errors.New("empty transcript")}
	}
	return text, nil
}

// withTempAudio hands fn a fresh temporary file and deletes it afterwards,
// whatever fn returns.
func withTempAudio(dir string, fn func(f *os.File) error) error {
	f, err := os.CreateTemp(dir, "wonder-voice-*.ogg")
	if err != nil {
		return fmt.Errorf("create voice temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()
	return fn(f)
}

// Process records the user turn, asks the model for a reply and records it.
// The request carries the system prompt, the stored window ending with the
// new turn, and nothing else, so the new message is sent exactly once. On
// failure the user turn stays recorded and a *CompletionError is returned.
func (d *Dispatcher) Process(ctx context.Context, userID int64, text string) (string, error) {
	var prior []ctxpkg.Message
	if keep := d.store.Cap() - 1; keep > 0 {
		var err error
		if prior, err = d.store.GetHistory(userID, keep); err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
	}
	d.store.Append(userID, ctxpkg.RoleUser, text)
	d.metrics.SetActiveUsers(d.store.Users())

	messages := d.assembler.Assemble(d.systemPrompt, prior, text)

	cctx, cancel := control.WithTimeout(ctx, d.policy.CompletionTimeout)
	defer cancel()
	started := time.Now()
	resp, err := d.provider.ChatCompletion(cctx, messages)
	latency := time.Since(started)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		d.metrics.IncFailure(observability.FailureCompletion)
		d.event(ctx, db.EventCompletionFailed, map[string]any{
			"user_id":    userID,
			"latency_ms": latency.Milliseconds(),
			"error":      truncate(err.Error(), 500),
		})
		return "", &CompletionError{Err: err}
	}

	reply := resp.Content
	d.store.Append(userID, ctxpkg.RoleAssistant, reply)
	d.metrics.ObserveCompletionLatency(latency)
	d.event(ctx, db.EventCompletionCompleted, map[string]any{
		"user_id":       userID,
		"messages":      len(messages),
		"latency_ms":    latency.Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
	return reply, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
