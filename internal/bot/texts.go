package bot

import "fmt"

// User-facing replies.
const (
	GreetingText = "Greetings! I am Wonder, your personal AI assistant. Like JARVIS, but with my own unique charm. " +
		"I'm here to help with anything you need - from complex problems to casual conversation. " +
		"You can send me text messages or voice notes! How may I assist you today?"
	HelpText = "I'm here to help! You can:\n- Send me text messages\n- Send voice messages\n" +
		"- Use /clear to reset our conversation\n\nI'll do my best to assist you with any questions or tasks!"
	ClearedText    = "Conversation history has been cleared. Let's start fresh!"
	ProcessingText = "🎧 Processing your voice message..."
	TextApology    = "I apologize, but I encountered an error. Please try again later."
	VoiceApology   = "I apologize, but I encountered an error processing your voice message. " +
		"Please try again or send your message as text."
)

// heardText echoes a transcript back while the reply is being generated.
func heardText(transcript string) string {
	return fmt.Sprintf("🎯 I heard: \"%s\"\n\n💭 Thinking...", transcript)
}
