package batch

import (
	"path/filepath"
	"strings"
)

// DefaultMIMEType is returned for extensions with no known mapping.
const DefaultMIMEType = "application/octet-stream"

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// MIMEType maps a file extension (with or without the leading dot, any case)
// to its MIME type.
func MIMEType(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return DefaultMIMEType
}

// MIMETypeOf resolves the MIME type of a file path.
func MIMETypeOf(path string) string {
	return MIMEType(filepath.Ext(path))
}

// Extension returns the canonical extension for a MIME type, or "".
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/tiff":
		return ".tiff"
	}
	for ext, m := range mimeTypes {
		if m == mimeType {
			return ext
		}
	}
	return ""
}

// MIMESet is a set of MIME types accepted for batch submission.
type MIMESet map[string]struct{}

// NewMIMESet builds a set from MIME types.
func NewMIMESet(types ...string) MIMESet {
	s := make(MIMESet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether mimeType is in the set.
func (s MIMESet) Contains(mimeType string) bool {
	_, ok := s[mimeType]
	return ok
}

// CheckFormat returns an UnsupportedFormat error when mimeType is not in
// accepted.
func CheckFormat(provider, mimeType string, accepted MIMESet) error {
	if accepted.Contains(mimeType) {
		return nil
	}
	return NewError(CodeUnsupportedFormat, "unsupported file format for %s batch processing: %s", provider, mimeType)
}

// RequireConfig returns a MissingConfiguration error naming every empty key.
func RequireConfig(provider string, values map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if values[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return NewError(CodeMissingConfiguration, "%s: %s required", provider, strings.Join(missing, ", "))
}

// MergeConfig overlays per-request overrides on adapter defaults.
func MergeConfig(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
