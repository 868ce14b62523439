package converter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestConvert(t *testing.T) {
	var got convertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/convert" {
			t.Errorf("request = %s %s, want POST /convert", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","url":"https://cdn.example.com/a.mp3","title":"Song"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	res, err := c.Convert(context.Background(), "dQw4w9WgXcQ", "192k")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if res.URL != "https://cdn.example.com/a.mp3" || res.Title != "Song" {
		t.Errorf("Convert() = %+v", res)
	}
	if got.ID != "dQw4w9WgXcQ" || got.Bitrate != "192k" {
		t.Errorf("request body = %+v", got)
	}
}

func TestConvertErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "api error", status: 200, body: `{"status":"error","message":"quota exceeded"}`, message: "quota exceeded"},
		{name: "http error with message", status: 502, body: `{"status":"error","message":"upstream down"}`, message: "upstream down"},
		{name: "http error without json", status: 503, body: `oops`, message: "Service Unavailable"},
		{name: "ok without url", status: 200, body: `{"status":"ok"}`, message: "response carried no download URL"},
		{name: "garbage", status: 200, body: `<html>`, message: "unreadable response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Convert(context.Background(), "dQw4w9WgXcQ", "128k")
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Convert() error = %v, want *Error", err)
			}
			if cerr.Message != tt.message {
				t.Errorf("Message = %q, want %q", cerr.Message, tt.message)
			}
		})
	}
}

func TestConvertNotConfigured(t *testing.T) {
	c := New(Config{})
	if c.Enabled() {
		t.Error("Enabled() = true without URL")
	}
	if _, err := c.Convert(context.Background(), "x", "128k"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Convert() error = %v, want ErrNotConfigured", err)
	}
}

func TestConvertTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Convert(context.Background(), "x", "128k")
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Message != "conversion service unreachable" {
		t.Errorf("Convert() error = %v, want unreachable", err)
	}
}

func TestConvertContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{BaseURL: srv.URL}).Convert(ctx, "x", "128k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Convert() error = %v, want deadline exceeded", err)
	}
}

func TestConvertRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok","url":"https://cdn.example.com/a.mp3"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 0.1})
	if _, err := c.Convert(context.Background(), "a", "128k"); err != nil {
		t.Fatalf("first Convert() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Convert(ctx, "b", "128k")
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Message != "conversion interrupted" {
		t.Errorf("second Convert() error = %v, want interrupted while waiting for a token", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("API saw %d requests, want 1", n)
	}
}
