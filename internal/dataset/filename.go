package dataset

import (
	"net/url"
	"path"
	"strings"
	"time"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".m4a":  true,
}

// IsAudioRef reports whether the reference can name a supported audio file.
// Opaque references without an extension are accepted; query strings
// (signed URLs) are ignored.
func IsAudioRef(ref string) bool {
	ext := strings.ToLower(path.Ext(refPath(ref)))
	return ext == "" || audioExtensions[ext]
}

// DateFromFilename reads a DDMMYYYY prefix from the file name, as recorders
// name files like 15012025_0930_729143.wav.
func DateFromFilename(ref string) (time.Time, bool) {
	base := path.Base(refPath(ref))
	if len(base) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("02012006", base[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func refPath(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
