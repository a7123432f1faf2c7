package context

// MaxHistory is the number of turns retained per user.
const MaxHistory = 10

// SimpleCompressor keeps only the last MaxMessages turns, dropping the oldest first.
type SimpleCompressor struct {
	MaxMessages int
}

// Compress returns the most recent MaxMessages entries. When truncation
// happens the result is a fresh slice, so the evicted turns are not kept
// alive by the backing array.
func (c *SimpleCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	out := make([]Message, c.MaxMessages)
	copy(out, messages[len(messages)-c.MaxMessages:])
	return out
}
