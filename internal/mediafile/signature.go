// Package mediafile validates submitted audio files by extension and
// magic bytes. A signature mismatch is a hard validation failure, not a
// warning.
package mediafile

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/cogniscribe/api/internal/apperr"
)

// AllowedExtensions lists the accepted audio container formats.
var AllowedExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg"}

// signatures maps extensions to accepted leading byte patterns. An
// offset of -1 means the pattern may appear anywhere in the probe
// window (ID3-tagged mp3 files put the frame sync after the tag).
type signature struct {
	offset  int
	pattern []byte
}

var signatures = map[string][]signature{
	".wav":  {{0, []byte("RIFF")}},
	".flac": {{0, []byte("fLaC")}},
	".ogg":  {{0, []byte("OggS")}},
	".m4a":  {{4, []byte("ftyp")}},
	".mp3": {
		{0, []byte("ID3")},
		{0, []byte{0xFF, 0xFB}},
		{0, []byte{0xFF, 0xF3}},
		{0, []byte{0xFF, 0xF2}},
	},
}

// SanitizeFilename strips path components and dangerous characters from a
// client-supplied filename.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "audio"
	}
	replacer := strings.NewReplacer("\x00", "", "\n", "", "\r", "", "..", "")
	return replacer.Replace(name)
}

// ValidateExtension checks the filename extension against the accepted
// formats and returns the lowercase extension.
func ValidateExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}
	return "", apperr.NewValidation("file", "unsupported audio format "+ext)
}

// VerifySignature checks the leading bytes of the file content against
// the magic-byte patterns for the declared extension.
func VerifySignature(head []byte, ext string) error {
	sigs, ok := signatures[ext]
	if !ok {
		return apperr.NewValidation("file", "unsupported audio format "+ext)
	}
	for _, sig := range sigs {
		if len(head) >= sig.offset+len(sig.pattern) &&
			bytes.Equal(head[sig.offset:sig.offset+len(sig.pattern)], sig.pattern) {
			return nil
		}
	}
	return apperr.NewValidation("file", "file content does not match declared format "+ext)
}
