package media

import (
	"path/filepath"
	"strings"
)

// Kind classifies recognized media by extension.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
	".avi":  true,
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".heic": true,
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
}

// IsRecognized reports whether the filename carries a recognized media
// extension. Unrecognized files are never hashed, moved, or indexed.
func IsRecognized(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return videoExtensions[ext] || imageExtensions[ext] || audioExtensions[ext]
}

// KindOf returns the media kind for a filename, or "" if unrecognized.
func KindOf(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case videoExtensions[ext]:
		return KindVideo
	case imageExtensions[ext]:
		return KindImage
	case audioExtensions[ext]:
		return KindAudio
	}
	return ""
}
