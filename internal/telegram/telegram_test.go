package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestGetUpdates_ParsesTextAndVoice(t *testing.T) {
	var gotOffset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUpdates" {
			http.NotFound(w, r)
			return
		}
		gotOffset = r.URL.Query().Get("offset")
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":11,"message":{"message_id":1,"from":{"id":7},"chat":{"id":123},"date":1700000000,"text":"hi"}},
			{"update_id":12,"message":{"message_id":2,"from":{"id":7},"chat":{"id":123},"date":1700000001,"voice":{"file_id":"v-1","duration":3,"mime_type":"audio/ogg"}}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	updates, err := c.GetUpdates(context.Background(), 11, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if gotOffset != "11" {
		t.Fatalf("unexpected offset %q", gotOffset)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Message.Text == nil || *updates[0].Message.Text != "hi" || updates[0].Message.From.ID != 7 {
		t.Fatalf("unexpected text update: %+v", updates[0].Message)
	}
	if updates[1].Message.Voice == nil || updates[1].Message.Voice.FileID != "v-1" {
		t.Fatalf("unexpected voice update: %+v", updates[1].Message)
	}
}

func TestGetUpdates_NotOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	_, err := c.GetUpdates(context.Background(), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestSendMessage_TruncatesAndReturnsID(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":55}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	id, err := c.SendMessage(context.Background(), 123, strings.Repeat("é", MaxMessageChars+10))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if id != 55 {
		t.Fatalf("expected message id 55, got %d", id)
	}
	text, _ := got["text"].(string)
	if n := utf8.RuneCountInString(text); n != MaxMessageChars {
		t.Fatalf("expected %d runes, got %d", MaxMessageChars, n)
	}
	if got["chat_id"].(float64) != 123 {
		t.Fatalf("unexpected chat id: %v", got["chat_id"])
	}
}

func TestSendMessage_RejectedIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	if _, err := c.SendMessage(context.Background(), 1, "hi"); err == nil {
		t.Fatal("expected error for rejected send")
	}
}

func TestEditMessage_SendsIDs(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/editMessageText" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":9}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	if err := c.EditMessage(context.Background(), 123, 9, "updated"); err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if got["message_id"].(float64) != 9 || got["text"] != "updated" {
		t.Fatalf("unexpected edit payload: %v", got)
	}
}

func TestDownloadFile_ResolvesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"v-1","file_path":"voice/file_3.oga"}}`)
		case "/file/voice/file_3.oga":
			_, _ = io.WriteString(w, "OggS-audio")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	var buf bytes.Buffer
	if err := c.DownloadFile(context.Background(), "v-1", &buf); err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	if buf.String() != "OggS-audio" {
		t.Fatalf("unexpected file content %q", buf.String())
	}
}

func TestDownloadFile_MissingFileIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getFile":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"file_id":"v-1","file_path":"voice/gone.oga"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL+"/file", 2*time.Second)
	if err := c.DownloadFile(context.Background(), "v-1", io.Discard); err == nil {
		t.Fatal("expected error for 404 download")
	}
}
