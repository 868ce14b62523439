package models

import (
	"strings"
	"time"
	"unicode"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusExpired    JobStatus = "expired"
)

// IsTerminal reports whether no further pipeline event may change the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Mode selects how a job is executed.
type Mode string

const (
	// ModeFile runs extract and transcode on the worker pool and keeps the artifact on disk.
	ModeFile Mode = "file"
	// ModeAPI hands the conversion to the paid conversion API and stores the returned URL.
	ModeAPI Mode = "api"
	// ModeStream pipes extractor output through the transcoder straight to the client.
	ModeStream Mode = "stream"
)

// ParseMode maps a request value onto a Mode. Empty selects ModeFile.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFile:
		return ModeFile, true
	case ModeAPI:
		return ModeAPI, true
	case ModeStream:
		return ModeStream, true
	default:
		return "", false
	}
}

// Params are the transform parameters requested for a source.
type Params struct {
	Bitrate   string  `json:"bitrate"`
	TrimStart float64 `json:"start,omitempty"`
	TrimEnd   float64 `json:"end,omitempty"`
	Mode      Mode    `json:"mode,omitempty"`
}

// HasTrim reports whether a trim window was requested.
func (p Params) HasTrim() bool {
	return p.TrimStart > 0 || p.TrimEnd > 0
}

// TrimDuration returns the length of the trim window, or 0 when the window is open-ended.
func (p Params) TrimDuration() float64 {
	if p.TrimEnd <= 0 || p.TrimEnd <= p.TrimStart {
		return 0
	}
	return p.TrimEnd - p.TrimStart
}

// Job is the persisted record of one extraction request.
type Job struct {
	ID               string
	SourceRef        string
	Identity         string
	Fingerprint      string
	Params           Params
	EffectiveBitrate string
	Status           JobStatus
	Progress         int
	Stage            string
	Title            string
	Duration         float64
	ArtifactLocation string
	ArtifactSize     int64
	Advisory         string
	ErrorMessage     string
	ErrorDetail      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// IsRemoteArtifact reports whether the artifact is an external URL rather than a local file.
func (j *Job) IsRemoteArtifact() bool {
	return IsRemoteLocation(j.ArtifactLocation)
}

// IsRemoteLocation reports whether location is an http(s) URL.
func IsRemoteLocation(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// JobView is what status queries return. It never carries tool diagnostics.
type JobView struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	Stage         string    `json:"stage,omitempty"`
	Title         string    `json:"title,omitempty"`
	Bitrate       string    `json:"bitrate,omitempty"`
	Advisory      string    `json:"advisory,omitempty"`
	Message       string    `json:"message,omitempty"`
	DownloadReady bool      `json:"downloadReady"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// View builds the caller-facing summary of the job.
func (j *Job) View() JobView {
	return JobView{
		ID:            j.ID,
		Status:        j.Status,
		Progress:      j.Progress,
		Stage:         j.Stage,
		Title:         j.Title,
		Bitrate:       j.EffectiveBitrate,
		Advisory:      j.Advisory,
		Message:       j.ErrorMessage,
		DownloadReady: j.Status == StatusCompleted && j.ArtifactLocation != "",
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		ExpiresAt:     j.ExpiresAt,
	}
}

// DownloadFilename builds a filesystem- and header-safe MP3 file name from a
// title, falling back to the source identity when nothing usable remains.
func DownloadFilename(title, identity string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == '"' || r == ':' || r == '*' || r == '?' || r == '<' || r == '>' || r == '|':
			continue
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		case !unicode.IsPrint(r):
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	name := strings.TrimSpace(b.String())
	if runes := []rune(name); len(runes) > 120 {
		name = strings.TrimSpace(string(runes[:120]))
	}
	if name == "" || name == "." || name == ".." {
		name = identity
	}
	if name == "" {
		name = "audio"
	}
	return name + ".mp3"
}
