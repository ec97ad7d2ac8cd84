package recognize

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrasewatch/phrasewatch/internal/config"
)

func onlineConfig(endpoint string) config.OnlineConfig {
	return config.OnlineConfig{
		Endpoint:  endpoint,
		APIKey:    "test-key",
		Language:  "en-US",
		TimeoutMS: 2000,
	}
}

func TestOnlineTranscribeSuccess(t *testing.T) {
	var gotContentType, gotAuth, gotLanguage string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotLanguage = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"text":"please do a safety reset now","confidence":0.94}`))
	}))
	defer server.Close()

	client := newOnlineClient(onlineConfig(server.URL))
	text, err := client.Transcribe(context.Background(), testSample())
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "please do a safety reset now" {
		t.Fatalf("unexpected text: %q", text)
	}
	if gotContentType != "audio/wav" {
		t.Fatalf("unexpected content type: %q", gotContentType)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotLanguage != "en-US" {
		t.Fatalf("unexpected language: %q", gotLanguage)
	}
	if len(gotBody) < 12 || string(gotBody[0:4]) != "RIFF" {
		t.Fatalf("expected WAV payload, got %q", gotBody)
	}
}

func TestOnlineNoSpeech(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newOnlineClient(onlineConfig(server.URL))
	_, err := client.Transcribe(context.Background(), testSample())
	if !errors.Is(err, ErrUnintelligible) {
		t.Fatalf("expected ErrUnintelligible, got %v", err)
	}
}

func TestOnlineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newOnlineClient(onlineConfig(server.URL))
	_, err := client.Transcribe(context.Background(), testSample())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestOnlineNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse connections

	client := newOnlineClient(onlineConfig(server.URL))
	_, err := client.Transcribe(context.Background(), testSample())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestOnlineNoEndpointConfigured(t *testing.T) {
	client := newOnlineClient(config.OnlineConfig{TimeoutMS: 1000})
	_, err := client.Transcribe(context.Background(), testSample())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestOnlineClientRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := newOnlineClient(onlineConfig(server.URL))
	_, err := client.Transcribe(context.Background(), testSample())
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !strings.Contains(backendErr.Detail, "418") {
		t.Fatalf("expected status in detail, got %q", backendErr.Detail)
	}
}
