package identity

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	const want = "dQw4w9WgXcQ"

	tests := []struct {
		name string
		ref  string
	}{
		{"canonical", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"canonical without scheme", "youtube.com/watch?v=dQw4w9WgXcQ"},
		{"extra query first", "https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ"},
		{"extra query after", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s&list=PL123"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ"},
		{"short link with time", "https://youtu.be/dQw4w9WgXcQ?t=10"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1"},
		{"nocookie embed", "https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ"},
		{"legacy v", "http://www.youtube.com/v/dQw4w9WgXcQ"},
		{"mobile", "https://m.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"music", "https://music.youtube.com/watch?v=dQw4w9WgXcQ&feature=share"},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ"},
		{"live", "https://www.youtube.com/live/dQw4w9WgXcQ?si=abc"},
		{"uppercase host", "https://WWW.YOUTUBE.COM/watch?v=dQw4w9WgXcQ"},
		{"bare id", "dQw4w9WgXcQ"},
		{"bare id with whitespace", "  dQw4w9WgXcQ\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.ref)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.ref, err)
			}
			if got != want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, want)
			}
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"https://vimeo.com/123456789",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQextra",
		"https://notyoutube.com/watch?v=dQw4w9WgXcQ",
		"dQw4w9WgXc",
		"dQw4w9WgXcQQ",
		"https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw",
	}

	for _, ref := range tests {
		t.Run(ref, func(t *testing.T) {
			got, err := Resolve(ref)
			if !errors.Is(err, ErrInvalidReference) {
				t.Errorf("Resolve(%q) = (%q, %v), want ErrInvalidReference", ref, got, err)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	ref := "https://youtu.be/abcdefghijk?list=xyz"
	first, err := Resolve(ref)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := Resolve(ref)
		if err != nil || got != first {
			t.Fatalf("iteration %d: got (%q, %v), want %q", i, got, err, first)
		}
	}
}

func TestCanonicalURLRoundTrip(t *testing.T) {
	id := "a1B2c3D4e5_"
	if !IsValid(id) {
		t.Fatalf("IsValid(%q) = false", id)
	}
	got, err := Resolve(CanonicalURL(id))
	if err != nil || got != id {
		t.Errorf("Resolve(CanonicalURL(%q)) = (%q, %v)", id, got, err)
	}
}
