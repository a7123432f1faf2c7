package bot

// TranscriptionError reports that a voice note could not be turned into text:
// download, upload, timeout, or an unusable transcript.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// CompletionError reports that the completion call failed. The user turn
// that triggered it stays in history; no assistant turn is recorded.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string { return "completion failed: " + e.Err.Error() }
func (e *CompletionError) Unwrap() error { return e.Err }

// TransportError reports that a reply could not be delivered. It is returned
// to the caller and never retried here.
type TransportError struct {
	ChatID int64
	Err    error
}

func (e *TransportError) Error() string { return "reply delivery failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
