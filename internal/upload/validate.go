// Package upload decides whether an uploaded file is an accepted audio type.
package upload

import (
	"mime"
	"path/filepath"
	"strings"
)

const unsupportedMessage = "Unsupported file type. Please upload an audio file (mp3, wav, webm, m4a, ogg, flac)"

var allowedContentTypes = map[string]struct{}{
	"audio/mpeg":   {},
	"audio/wav":    {},
	"audio/webm":   {},
	"audio/mp4":    {},
	"audio/ogg":    {},
	"audio/flac":   {},
	"audio/x-flac": {},
}

var allowedExtensions = []string{".mp3", ".wav", ".webm", ".m4a", ".ogg", ".flac"}

// ValidationError is returned for uploads that match neither list. It maps to
// a client error.
type ValidationError struct {
	ContentType string
	Filename    string
}

func (e *ValidationError) Error() string {
	return unsupportedMessage
}

// Validate accepts an upload when its declared content type or its filename
// extension is allowed. Either check alone is sufficient.
func Validate(contentType, filename string) error {
	if ContentTypeAllowed(contentType) || ExtensionAllowed(filename) {
		return nil
	}
	return &ValidationError{ContentType: contentType, Filename: filename}
}

// ContentTypeAllowed ignores media type parameters and case.
func ContentTypeAllowed(contentType string) bool {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	_, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(mediaType))]
	return ok
}

func ExtensionAllowed(filename string) bool {
	lower := strings.ToLower(strings.TrimSpace(filename))
	if lower == "" {
		return false
	}
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SuggestedExtension returns the filename's extension for staging, or an
// empty string when there is none.
func SuggestedExtension(filename string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
}

// Extensions lists the accepted filename extensions.
func Extensions() []string {
	return append([]string(nil), allowedExtensions...)
}
