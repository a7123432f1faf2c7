package context

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSystemPrompt is used when no base prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// SystemPrompt appends the current date and time to base. An empty base is
// replaced by DefaultSystemPrompt.
func SystemPrompt(base string, now time.Time, loc *time.Location, label string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultSystemPrompt
	}
	date, clock := FormatClock(now, loc)
	return fmt.Sprintf("%s The current date is %s and the time is %s %s.", base, date, clock, label)
}

// Assembler builds the message list sent to the model for one user message.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}

// TimeAwareAssembler combines a time-stamped system prompt, history, and the
// new user message into a single ordered message list.
type TimeAwareAssembler struct {
	Location *time.Location
	Label    string
	Now      func() time.Time
}

// NewTimeAwareAssembler returns an assembler stamped in the reference timezone.
func NewTimeAwareAssembler() *TimeAwareAssembler {
	return &TimeAwareAssembler{
		Location: ReferenceLocation(),
		Label:    ReferenceLabel,
		Now:      time.Now,
	}
}

// Assemble builds system + history + user. history must not already contain
// userMsg; the caller owns persistence of the new turn.
func (a *TimeAwareAssembler) Assemble(system string, history []Message, userMsg string) []Message {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	loc := a.Location
	if loc == nil {
		loc = ReferenceLocation()
	}
	label := a.Label
	if label == "" {
		label = ReferenceLabel
	}
	messages := make([]Message, 0, 1+len(history)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: SystemPrompt(system, now(), loc, label)})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userMsg})
	return messages
}
