// Package identity resolves arbitrary source URLs to a canonical content ID.
//
// The ID is what deduplication and the artifact cache key on, so every URL
// form that addresses the same video must resolve to the same value.
package identity

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidReference is returned when no known URL form matches.
var ErrInvalidReference = errors.New("invalid source reference")

const idChars = `[A-Za-z0-9_-]{11}`

// idTail rejects matches that are only a prefix of a longer token.
const idTail = `(?:[^A-Za-z0-9_-]|$)`

const host = `(?i:(?:^|[/.@])(?:youtube\.com|youtube-nocookie\.com))`

// patterns are tried in order; the first match wins.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(host + `/watch/?\?(?:[^#]*&)?v=(` + idChars + `)` + idTail),
	regexp.MustCompile(`(?i:(?:^|[/.])youtu\.be)/(` + idChars + `)` + idTail),
	regexp.MustCompile(host + `/embed/(` + idChars + `)` + idTail),
	regexp.MustCompile(host + `/v/(` + idChars + `)` + idTail),
	regexp.MustCompile(host + `/shorts/(` + idChars + `)` + idTail),
	regexp.MustCompile(host + `/live/(` + idChars + `)` + idTail),
	regexp.MustCompile(`^(` + idChars + `)$`),
}

var bareID = regexp.MustCompile(`^` + idChars + `$`)

// Resolve returns the canonical ID for ref.
func Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidReference
	}

	for _, re := range patterns {
		if m := re.FindStringSubmatch(ref); m != nil {
			return m[1], nil
		}
	}
	return "", ErrInvalidReference
}

// IsValid reports whether id has the shape of a canonical ID.
func IsValid(id string) bool {
	return bareID.MatchString(id)
}

// CanonicalURL is the URL handed to the extraction tool for id.
func CanonicalURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
