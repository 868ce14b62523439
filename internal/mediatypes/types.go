package mediatypes

import "strings"

// Container is an audio container the extractor may hand back.
type Container string

const (
	ContainerMP3   Container = "mp3"
	ContainerM4A   Container = "m4a"
	ContainerWebM  Container = "webm"
	ContainerOpus  Container = "opus"
	ContainerOgg   Container = "ogg"
	ContainerAAC   Container = "aac"
	ContainerFLAC  Container = "flac"
	ContainerWAV   Container = "wav"
	ContainerOther Container = "other"
)

// MP3Ext is the extension of every artifact served to clients.
const MP3Ext = ".mp3"

// AudioExtensions maps file extensions to their container.
var AudioExtensions = map[string]Container{
	".mp3":  ContainerMP3,
	".m4a":  ContainerM4A,
	".mp4":  ContainerM4A,
	".webm": ContainerWebM,
	".weba": ContainerWebM,
	".opus": ContainerOpus,
	".ogg":  ContainerOgg,
	".oga":  ContainerOgg,
	".aac":  ContainerAAC,
	".flac": ContainerFLAC,
	".wav":  ContainerWAV,
}

// MimeTypes maps containers to the Content-Type they are served with.
var MimeTypes = map[Container]string{
	ContainerMP3:  "audio/mpeg",
	ContainerM4A:  "audio/mp4",
	ContainerWebM: "audio/webm",
	ContainerOpus: "audio/ogg",
	ContainerOgg:  "audio/ogg",
	ContainerAAC:  "audio/aac",
	ContainerFLAC: "audio/flac",
	ContainerWAV:  "audio/wav",
}

// GetContainer returns the container for an extension. Case is ignored and
// the leading dot is optional.
func GetContainer(ext string) Container {
	ext = strings.ToLower(ext)
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	if c, ok := AudioExtensions[ext]; ok {
		return c
	}
	return ContainerOther
}

// GetMimeType returns the Content-Type for an extension, or
// "application/octet-stream" when it is not a known audio container.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[GetContainer(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsAudio reports whether ext is a known audio container.
func IsAudio(ext string) bool {
	return GetContainer(ext) != ContainerOther
}

// IsMP3 reports whether ext names an MP3 file.
func IsMP3(ext string) bool {
	return GetContainer(ext) == ContainerMP3
}
