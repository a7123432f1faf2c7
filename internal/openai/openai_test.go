package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
)

func TestChatCompletion_WithUsage(t *testing.T) {
	var gotBody chatRequest
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Hello!"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     42,
				"completion_tokens": 7,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL+"/", "test-model", "", 5*time.Second)
	result, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{
		{Role: ctxpkg.RoleSystem, Content: "sys"},
		{Role: ctxpkg.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", result.Content)
	}
	if result.InputTokens != 42 {
		t.Errorf("expected 42 input tokens, got %d", result.InputTokens)
	}
	if result.OutputTokens != 7 {
		t.Errorf("expected 7 output tokens, got %d", result.OutputTokens)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Model != "test-model" || len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("unexpected request body: %+v", gotBody)
	}
}

func TestChatCompletion_NoUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  World \n"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "test-model", "", 5*time.Second)
	result, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}

	if result.Content != "World" {
		t.Errorf("expected 'World', got %q", result.Content)
	}
	if result.InputTokens != 0 || result.OutputTokens != 0 {
		t.Errorf("expected zero usage, got %+v", result)
	}
}

func TestChatCompletion_EmptyChoicesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 0},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "test-model", "", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected no choices error, got %v", err)
	}
}

func TestChatCompletion_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "test-model", "", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestChatCompletion_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "test-model", "", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestChatCompletion_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "test-model", "", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.ChatCompletion(ctx, []ctxpkg.Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestTranscribe_SendsMultipart(t *testing.T) {
	var gotModel, gotFilename, gotAudio string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			gotFilename = hdr.Filename
			b, _ := io.ReadAll(f)
			gotAudio = string(b)
			f.Close()
		}
		io.WriteString(w, `{"text":" turn on the lights "}`)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "", "", 5*time.Second)
	text, err := client.Transcribe(context.Background(), "voice.ogg", strings.NewReader("OggS-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "turn on the lights" {
		t.Errorf("unexpected transcript %q", text)
	}
	if gotModel != DefaultTranscriptionModel {
		t.Errorf("unexpected model %q", gotModel)
	}
	if gotFilename != "voice.ogg" || gotAudio != "OggS-bytes" {
		t.Errorf("unexpected file part name=%q body=%q", gotFilename, gotAudio)
	}
}

func TestTranscribe_EmptyTextIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"   "}`)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, "", "", 5*time.Second)
	if _, err := client.Transcribe(context.Background(), "voice.ogg", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient("bad-key", server.URL, "", "", 5*time.Second)
	if _, err := client.Transcribe(context.Background(), "voice.ogg", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for 401 response")
	}
}
