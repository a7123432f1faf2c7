package model

import (
	"context"
	"io"

	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the chat completion abstraction used by the dispatcher.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (CompletionResponse, error)
}

// Transcriber turns recorded speech into text. filename carries the
// container extension the API uses to detect the audio format.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}
