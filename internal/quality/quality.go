// Package quality decides the effective audio bitrate for a job.
//
// Long sources are clamped to a lower ceiling so a multi-hour extraction
// does not produce an unreasonably large artifact. The decision is made
// once per job before dispatch and is identical for every execution mode.
package quality

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// LongContentThreshold is the duration in seconds above which bitrate is clamped.
	LongContentThreshold = 3 * 60 * 60

	// LongContentCeiling is the highest bitrate allowed for long content, in kbps.
	LongContentCeiling = 128

	// DefaultBitrate is used when a request does not name one.
	DefaultBitrate = "192k"
)

// Supported lists the accepted bitrates in kbps.
var Supported = []int{64, 96, 128, 160, 192, 256, 320}

// Decision is the outcome of applying the policy.
type Decision struct {
	Requested string
	Effective string
	Advisory  string
}

// Clamped reports whether the effective bitrate differs from the requested one.
func (d Decision) Clamped() bool {
	return d.Advisory != ""
}

// ParseBitrate accepts "320", "320k" or "320K" and returns kbps.
func ParseBitrate(label string) (int, error) {
	s := strings.TrimSpace(label)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "k"), "K")
	kbps, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bitrate %q", label)
	}
	for _, supported := range Supported {
		if kbps == supported {
			return kbps, nil
		}
	}
	return 0, fmt.Errorf("unsupported bitrate %q", label)
}

// Normalize returns the canonical "<n>k" label, substituting DefaultBitrate for empty input.
func Normalize(label string) (string, error) {
	if strings.TrimSpace(label) == "" {
		return DefaultBitrate, nil
	}
	kbps, err := ParseBitrate(label)
	if err != nil {
		return "", err
	}
	return Label(kbps), nil
}

// Label formats kbps as a bitrate label.
func Label(kbps int) string {
	return strconv.Itoa(kbps) + "k"
}

// Apply evaluates the policy for a requested bitrate and a source duration in seconds.
// Unparseable requests are passed through unchanged; validation happens at the
// request boundary via Normalize.
func Apply(requested string, durationSeconds float64) Decision {
	d := Decision{Requested: requested, Effective: requested}

	if durationSeconds <= LongContentThreshold {
		return d
	}

	kbps, err := ParseBitrate(requested)
	if err != nil || kbps <= LongContentCeiling {
		return d
	}

	d.Effective = Label(LongContentCeiling)
	d.Advisory = fmt.Sprintf(
		"Source is longer than %d hours; bitrate reduced from %s to %s.",
		LongContentThreshold/3600, Label(kbps), d.Effective)
	return d
}
