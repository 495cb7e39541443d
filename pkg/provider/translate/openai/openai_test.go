package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

var helloReq = translate.Request{Text: []string{"hello"}, Source: "eng_Latn", Target: "fra_Latn"}

// newStreamServer serves /chat/completions as an SSE stream of the given
// content deltas.
func newStreamServer(t *testing.T, deltas []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test-model",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]any{"content": d},
					"finish_reason": nil,
				}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestBuildParams(t *testing.T) {
	params := buildParams("gpt-4o-mini", helloReq)
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
}

func TestTranslate_StreamsUpdates(t *testing.T) {
	srv := newStreamServer(t, []string{"Bon", "jour", ""})
	defer srv.Close()

	e, err := New("sk-test", "test-model", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var updates []string
	out, err := e.Translate(context.Background(), helloReq, func(s string) { updates = append(updates, s) })
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "Bonjour" {
		t.Errorf("output = %q, want Bonjour", out)
	}
	if len(updates) != 2 || updates[0] != "Bon" || updates[1] != "Bonjour" {
		t.Errorf("updates = %q", updates)
	}
}

func TestTranslate_InvalidRequest(t *testing.T) {
	e, _ := New("sk-test", "test-model", WithBaseURL("http://127.0.0.1:1"), WithMaxRetries(0))
	_, err := e.Translate(context.Background(), translate.Request{Text: []string{"hi"}, Source: "eng_Latn"}, nil)
	if err == nil {
		t.Fatal("expected validation error for missing target")
	}
}

func TestTranslate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	e, _ := New("sk-test", "test-model", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := e.Translate(context.Background(), helloReq, nil); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}
