package commander

import (
	"strings"
	"unicode"
)

// Kind tags an inbound Event.
type Kind string

const (
	KindCommand Kind = "command"
	KindText    Kind = "text"
	KindVoice   Kind = "voice"
)

// Command names a supported slash command.
type Command string

const (
	CommandStart Command = "start"
	CommandHelp  Command = "help"
	CommandClear Command = "clear"
)

// Event is an Update reduced to the one shape the bot acts on.
type Event struct {
	Kind      Kind
	UpdateID  int64
	UserID    int64
	ChatID    int64
	MessageID int64
	Date      int64
	Command   Command
	Text      string
	Voice     *Voice
}

// Classify maps an update to an Event. It reports false for updates the bot
// ignores: no message, empty text, and unknown commands.
func Classify(u Update) (Event, bool) {
	m := u.Message
	if m == nil {
		return Event{}, false
	}
	ev := Event{
		UpdateID:  u.UpdateID,
		UserID:    m.Chat.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Date:      m.Date,
	}
	if m.From != nil && m.From.ID != 0 {
		ev.UserID = m.From.ID
	}

	if m.Voice != nil && m.Voice.FileID != "" {
		ev.Kind = KindVoice
		ev.Voice = m.Voice
		return ev, true
	}
	if m.Text == nil {
		return Event{}, false
	}
	text := strings.TrimSpace(*m.Text)
	if text == "" {
		return Event{}, false
	}
	if hasCommandName(text) {
		cmd, ok := parseCommand(text)
		if !ok {
			return Event{}, false
		}
		ev.Kind = KindCommand
		ev.Command = cmd
		return ev, true
	}
	ev.Kind = KindText
	ev.Text = *m.Text
	return ev, true
}

// hasCommandName reports whether text opens with a slash immediately followed
// by a name. A bare "/" or "/ foo" is plain text.
func hasCommandName(text string) bool {
	rest, ok := strings.CutPrefix(text, "/")
	return ok && rest != "" && !unicode.IsSpace([]rune(rest)[0])
}

// parseCommand accepts "/name", "/name@botname" and trailing arguments.
func parseCommand(text string) (Command, bool) {
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	switch cmd := Command(strings.ToLower(name)); cmd {
	case CommandStart, CommandHelp, CommandClear:
		return cmd, true
	default:
		return "", false
	}
}
