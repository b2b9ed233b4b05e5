package gate

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	dotRuns     = regexp.MustCompile(`\.+`)
	leadingDots = regexp.MustCompile(`^\.+`)
)

// DefaultMaxFilenameLength bounds sanitized names.
const DefaultMaxFilenameLength = 100

// SanitizeFilename makes an uploaded filename safe for object keys.
func SanitizeFilename(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxFilenameLength
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = dotRuns.ReplaceAllString(name, ".")
	name = leadingDots.ReplaceAllString(name, "")
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

func hasDoubleExtension(name string) bool {
	return strings.Count(name, ".") > 1
}
