package models

import (
	"strings"
	"testing"
)

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusExpired, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		mode  Mode
		ok    bool
	}{
		{"", ModeFile, true},
		{"file", ModeFile, true},
		{"API", ModeAPI, true},
		{" stream ", ModeStream, true},
		{"torrent", "", false},
	}

	for _, tt := range tests {
		mode, ok := ParseMode(tt.input)
		if mode != tt.mode || ok != tt.ok {
			t.Errorf("ParseMode(%q) = (%q, %v), want (%q, %v)", tt.input, mode, ok, tt.mode, tt.ok)
		}
	}
}

func TestParamsTrim(t *testing.T) {
	tests := []struct {
		name     string
		params   Params
		hasTrim  bool
		duration float64
	}{
		{"no trim", Params{}, false, 0},
		{"start only", Params{TrimStart: 30}, true, 0},
		{"window", Params{TrimStart: 30, TrimEnd: 90}, true, 60},
		{"inverted window", Params{TrimStart: 90, TrimEnd: 30}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasTrim(); got != tt.hasTrim {
				t.Errorf("HasTrim() = %v, want %v", got, tt.hasTrim)
			}
			if got := tt.params.TrimDuration(); got != tt.duration {
				t.Errorf("TrimDuration() = %v, want %v", got, tt.duration)
			}
		})
	}
}

func TestJobViewHidesDiagnostics(t *testing.T) {
	job := &Job{
		ID:               "job-1",
		Status:           StatusFailed,
		ErrorMessage:     "extraction failed",
		ErrorDetail:      "ERROR: [youtube] abc: Sign in to confirm your age",
		EffectiveBitrate: "128k",
	}

	view := job.View()
	if view.Message != "extraction failed" {
		t.Errorf("Message = %q, want short message", view.Message)
	}
	if view.DownloadReady {
		t.Error("failed job should not be download ready")
	}
	if view.Bitrate != "128k" {
		t.Errorf("Bitrate = %q, want 128k", view.Bitrate)
	}
}

func TestIsRemoteLocation(t *testing.T) {
	if !IsRemoteLocation("https://cdn.example.com/a.mp3") {
		t.Error("https URL should be remote")
	}
	if IsRemoteLocation("/data/artifacts/a.mp3") {
		t.Error("local path should not be remote")
	}
}

func TestDownloadFilename(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		identity string
		want     string
	}{
		{name: "plain", title: "Song Title", identity: "dQw4w9WgXcQ", want: "Song Title.mp3"},
		{name: "strips unsafe characters", title: `AC/DC: "Back" in <Black>?`, identity: "x", want: "ACDC Back in Black.mp3"},
		{name: "collapses whitespace", title: "  a \t\n b  ", identity: "x", want: "a b.mp3"},
		{name: "falls back to identity", title: "///", identity: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ.mp3"},
		{name: "dot only", title: "..", identity: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ.mp3"},
		{name: "nothing usable", title: "", identity: "", want: "audio.mp3"},
		{name: "keeps unicode", title: "Café Tacvba", identity: "x", want: "Café Tacvba.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DownloadFilename(tt.title, tt.identity); got != tt.want {
				t.Errorf("DownloadFilename(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestDownloadFilenameTruncates(t *testing.T) {
	got := DownloadFilename(strings.Repeat("é", 300), "x")
	if n := len([]rune(strings.TrimSuffix(got, ".mp3"))); n != 120 {
		t.Errorf("truncated name has %d runes, want 120", n)
	}
}
