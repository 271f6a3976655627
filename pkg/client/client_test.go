package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProcessAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process_audio" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		file.Close()
		if header.Filename != "in.wav" {
			t.Fatalf("filename=%q", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"request_id":"req-1","status":"success","transcription":"hello"}`))
	}))
	defer server.Close()

	result, err := New(server.URL).ProcessAudio(context.Background(), "in.wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}
	if result.RequestID != "req-1" || result.Transcription != "hello" {
		t.Fatalf("result=%+v", result)
	}
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"input":"hi","llm_output":{"response":"hello"},"model_raw":"raw"}`))
	}))
	defer server.Close()

	result, err := New(server.URL).Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if result.LLMOutput["response"] != "hello" {
		t.Fatalf("result=%+v", result)
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Empty message"}`))
	}))
	defer server.Close()

	_, err := New(server.URL).Chat(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v, want APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("status=%d", apiErr.Status)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"shato-voice-server","stages":{"stt":"healthy"}}`))
	}))
	defer server.Close()

	result, err := New(server.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
	if result.Stages["stt"] != "healthy" {
		t.Fatalf("result=%+v", result)
	}
}
