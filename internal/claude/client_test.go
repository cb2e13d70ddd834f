package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteSuccess(t *testing.T) {
	var gotBody map[string]any
	var gotKey, gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "4"}},
		})
	}))
	defer srv.Close()

	c := NewWithBaseURL("claude-3-sonnet-20240229", 1500, "be brief", srv.URL)
	reply, err := c.Complete(context.Background(), "what is 2+2", "sk-test")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "4" {
		t.Fatalf("reply = %q, want %q", reply, "4")
	}
	if gotKey != "sk-test" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if gotBody["model"] != "claude-3-sonnet-20240229" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["system"] != "be brief" {
		t.Errorf("system = %v", gotBody["system"])
	}
	if gotBody["max_tokens"] != float64(1500) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestCompleteNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewWithBaseURL("m", 100, "", srv.URL)
	_, err := c.Complete(context.Background(), "hi", "bad-key")

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if svcErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", svcErr.StatusCode)
	}
}

func TestCompleteMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c := NewWithBaseURL("m", 100, "", srv.URL)
	_, err := c.Complete(context.Background(), "hi", "k")

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
}

func TestCompleteOmitsEmptySystemPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["system"]; ok {
			t.Error("empty system prompt should be omitted")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "ok"}},
		})
	}))
	defer srv.Close()

	c := NewWithBaseURL("m", 100, "", srv.URL)
	if _, err := c.Complete(context.Background(), "hi", "k"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}
