package genimage

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("test-key", "test-model")
	c.baseURL = srv.URL
	return c
}

func TestGenerateReturnsImage(t *testing.T) {
	want := []byte{0x89, 0x50, 0x4e, 0x47}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"` +
			base64.StdEncoding.EncodeToString(want) + `"}}]}}]}`))
	})

	img, err := c.Generate(context.Background(), []byte("input"), "image/jpeg", "fix it")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if img.MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", img.MimeType)
	}
	if string(img.Data) != string(want) {
		t.Errorf("unexpected image bytes")
	}
}

func TestGenerateBlockedByPromptFeedback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	})

	_, err := c.Generate(context.Background(), []byte("input"), "image/png", "p")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedError", err)
	}
	if blocked.Reason != "SAFETY" {
		t.Errorf("reason = %q, want SAFETY", blocked.Reason)
	}
}

func TestGenerateBlockedByFinishReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]},"finishReason":"SAFETY"}]}`))
	})

	_, err := c.Generate(context.Background(), []byte("input"), "image/png", "p")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want BlockedError", err)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"no image here"}]},"finishReason":"STOP"}]}`))
	})

	_, err := c.Generate(context.Background(), []byte("input"), "image/png", "p")
	var empty *EmptyError
	if !errors.As(err, &empty) {
		t.Fatalf("error = %v, want EmptyError", err)
	}
}

func TestGenerateWithoutAPIKey(t *testing.T) {
	c := New("", "")
	if err := c.Ready(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Ready = %v, want ErrNotConfigured", err)
	}
	if _, err := c.Generate(context.Background(), nil, "image/png", "p"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Generate = %v, want ErrNotConfigured", err)
	}
}
