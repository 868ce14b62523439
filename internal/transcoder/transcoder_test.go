package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake ffmpeg: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	tr := New("")
	if tr.Binary() != DefaultBinary {
		t.Errorf("Binary() = %q, want %q", tr.Binary(), DefaultBinary)
	}
	if New("/opt/ffmpeg").Binary() != "/opt/ffmpeg" {
		t.Error("configured binary not kept")
	}
}

func TestNeedsTranscode(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kbps   float64
		opts   Options
		want   bool
	}{
		{name: "webm source", source: "source.webm", kbps: 160, opts: Options{Bitrate: "192k"}, want: true},
		{name: "mp3 within target", source: "source.mp3", kbps: 128, opts: Options{Bitrate: "192k"}, want: false},
		{name: "mp3 upper case ext", source: "source.MP3", kbps: 128, opts: Options{Bitrate: "128k"}, want: false},
		{name: "mp3 above target", source: "source.mp3", kbps: 320, opts: Options{Bitrate: "128k"}, want: true},
		{name: "mp3 unknown bitrate", source: "source.mp3", kbps: 0, opts: Options{Bitrate: "192k"}, want: true},
		{name: "mp3 with trim", source: "source.mp3", kbps: 128, opts: Options{Bitrate: "192k", TrimStart: 10}, want: true},
		{name: "mp3 with duration", source: "source.mp3", kbps: 128, opts: Options{Bitrate: "192k", TrimDuration: 30}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsTranscode(tt.source, tt.kbps, tt.opts); got != tt.want {
				t.Errorf("NeedsTranscode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileArgs(t *testing.T) {
	args := FileArgs("/tmp/in.webm", "/tmp/out.mp3", Options{Bitrate: "320k", TrimStart: 5, TrimDuration: 30})
	joined := strings.Join(args, " ")

	for _, want := range []string{"-ss 5.000 -i /tmp/in.webm -t 30.000", "-c:a libmp3lame", "-b:a 320k", "-f mp3", "-y"} {
		if !strings.Contains(joined, want) {
			t.Errorf("FileArgs() = %q, missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "/tmp/out.mp3" {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestStreamArgs(t *testing.T) {
	args := StreamArgs(Options{})
	joined := strings.Join(args, " ")

	if strings.Contains(joined, "-ss") || strings.Contains(joined, "-t ") {
		t.Errorf("StreamArgs() without trim = %q", joined)
	}
	if !strings.Contains(joined, "-i pipe:0") || args[len(args)-1] != "pipe:1" {
		t.Errorf("StreamArgs() = %q, want pipe:0 in and pipe:1 out", joined)
	}
	if !strings.Contains(joined, "-b:a 192k") {
		t.Errorf("StreamArgs() = %q, want default bitrate", joined)
	}
}

func TestTranscode(t *testing.T) {
	// Copies the input to the output path (last argument).
	bin := fakeFFmpeg(t, `
in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"`)

	dir := t.TempDir()
	in := filepath.Join(dir, "source.webm")
	out := filepath.Join(dir, "out.mp3")
	if err := os.WriteFile(in, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := New(bin)
	if err := tr.Transcode(context.Background(), in, out, Options{Bitrate: "128k"}); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "audio" {
		t.Errorf("output = %q, %v", data, err)
	}
}

func TestTranscodeFailure(t *testing.T) {
	tr := New(fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2; exit 1`))

	err := tr.Transcode(context.Background(), "/nope", filepath.Join(t.TempDir(), "o.mp3"), Options{})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Transcode() error = %v, want *Error", err)
	}
	if terr.Message != "transcoding failed" {
		t.Errorf("Message = %q", terr.Message)
	}
	if !strings.Contains(terr.Detail, "Invalid data") {
		t.Errorf("Detail = %q, want stderr tail", terr.Detail)
	}
}

func TestTranscodeContextCancel(t *testing.T) {
	tr := New(fakeFFmpeg(t, `exec sleep 30`))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Transcode(ctx, "/in", "/out", Options{})
	var terr *Error
	if !errors.As(err, &terr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transcode() error = %v, want interrupted", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Transcode() did not stop promptly")
	}
}

func TestCleanupKillsRunning(t *testing.T) {
	tr := New(fakeFFmpeg(t, `exec sleep 30`))

	done := make(chan error, 1)
	go func() {
		done <- tr.Transcode(context.Background(), "/in", "/out", Options{})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for tr.registry.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	tr.Cleanup()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Transcode() should fail after Cleanup")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Cleanup did not stop the process")
	}
}
