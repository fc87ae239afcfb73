package index

import "strings"

var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

var textExtensions = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".md":   "text/markdown",
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}

func audioMime(name string) (string, bool) {
	m, ok := audioExtensions[extOf(name)]
	return m, ok
}

func imageMime(name string) (string, bool) {
	m, ok := imageExtensions[extOf(name)]
	return m, ok
}

func textMime(name string) (string, bool) {
	m, ok := textExtensions[extOf(name)]
	return m, ok
}
