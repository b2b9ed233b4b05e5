// Package signature identifies image formats by their leading magic bytes.
package signature

import (
	"bytes"
	"strings"
)

type entry struct {
	mime   string
	magic  []byte
	offset int
	// marker must also appear at markerOffset when set.
	marker       []byte
	markerOffset int
}

var table = []entry{
	{mime: "image/jpeg", magic: []byte{0xFF, 0xD8, 0xFF}},
	{mime: "image/png", magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{mime: "image/gif", magic: []byte("GIF87a")},
	{mime: "image/gif", magic: []byte("GIF89a")},
	{mime: "image/webp", magic: []byte("RIFF"), marker: []byte("WEBP"), markerOffset: 8},
}

// Normalize lowercases a declared MIME type and folds known aliases.
func Normalize(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "image/jpg" || mime == "image/pjpeg" {
		return "image/jpeg"
	}
	return mime
}

func (e entry) match(buf []byte) bool {
	end := e.offset + len(e.magic)
	if len(buf) < end || !bytes.Equal(buf[e.offset:end], e.magic) {
		return false
	}
	if e.marker != nil {
		mEnd := e.markerOffset + len(e.marker)
		if len(buf) < mEnd || !bytes.Equal(buf[e.markerOffset:mEnd], e.marker) {
			return false
		}
	}
	return true
}

// Detect returns the first MIME type whose signature matches buf.
func Detect(buf []byte) (string, bool) {
	for _, e := range table {
		if e.match(buf) {
			return e.mime, true
		}
	}
	return "", false
}

// Matches reports whether buf carries the signature of the declared type.
// Types without a table entry never match.
func Matches(buf []byte, declared string) bool {
	declared = Normalize(declared)
	for _, e := range table {
		if e.mime == declared && e.match(buf) {
			return true
		}
	}
	return false
}

// Known reports whether the declared type has a signature entry.
func Known(declared string) bool {
	declared = Normalize(declared)
	for _, e := range table {
		if e.mime == declared {
			return true
		}
	}
	return false
}
