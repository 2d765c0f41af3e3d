// Package format classifies discovered media files and prepares relay
// payloads. Classification runs an explicit ordered list of probes, each
// returning a definite match-or-no-match result, so dispatch is a pure
// function over probe results.
package format

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Class is a media classification.
type Class int

const (
	ClassUnknown          Class = iota
	ClassVideo                  // video container, never relayed
	ClassAnimated               // animated image (size threshold applies)
	ClassConvertibleStill       // still format needing an external decoder (HEIC/HEIF)
	ClassStill                  // ordinary still image
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassVideo:
		return "video"
	case ClassAnimated:
		return "animated"
	case ClassConvertibleStill:
		return "convertible-still"
	case ClassStill:
		return "still"
	default:
		return "unknown"
	}
}

var (
	videoExtensions       = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".mpg", ".mpeg"}
	animatedExtensions    = []string{".gif", ".webp", ".apng"}
	convertibleExtensions = []string{".heic", ".heif"}
	stillExtensions       = []string{".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif"}
)

func extIn(ext string, list []string) bool {
	for _, e := range list {
		if ext == e {
			return true
		}
	}
	return false
}

// IsMediaFile reports whether a file looks like media the engine should
// consider, by extension or declared MIME type. This is the discovery-time
// filter; precise classification happens after download.
func IsMediaFile(name, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if extIn(ext, videoExtensions) || extIn(ext, animatedExtensions) ||
		extIn(ext, convertibleExtensions) || extIn(ext, stillExtensions) {
		return true
	}
	return strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
}

// probe inspects one evidence source and returns a class or no-match.
type probe func(name, mimeType string, data []byte) (Class, bool)

// probes run in order; the first match wins. Extension is most specific to
// the producer's intent, then the declared MIME type, then a content sniff.
var probes = []probe{probeExtension, probeMime, probeContent}

// Classify determines the class of a file from its name, declared MIME type,
// and content.
func Classify(name, mimeType string, data []byte) Class {
	for _, p := range probes {
		if class, ok := p(name, mimeType, data); ok {
			return class
		}
	}
	return ClassUnknown
}

func probeExtension(name, _ string, _ []byte) (Class, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case extIn(ext, videoExtensions):
		return ClassVideo, true
	case extIn(ext, animatedExtensions):
		return ClassAnimated, true
	case extIn(ext, convertibleExtensions):
		return ClassConvertibleStill, true
	case extIn(ext, stillExtensions):
		return ClassStill, true
	}
	return ClassUnknown, false
}

func probeMime(_, mimeType string, _ []byte) (Class, bool) {
	mt := strings.ToLower(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/gif", "image/webp", "image/apng":
		return ClassAnimated, true
	case "image/heic", "image/heif":
		return ClassConvertibleStill, true
	case "image/png", "image/jpeg", "image/bmp", "image/tiff":
		return ClassStill, true
	}
	if strings.HasPrefix(mt, "video/") {
		return ClassVideo, true
	}
	return ClassUnknown, false
}

// probeContent sniffs magic bytes. It runs last, for files whose name and
// MIME type gave no definite answer.
func probeContent(_, _ string, data []byte) (Class, bool) {
	if len(data) < 12 {
		return ClassUnknown, false
	}
	switch {
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return ClassAnimated, true
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ClassAnimated, true
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return ClassStill, true
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ClassStill, true
	case bytes.HasPrefix(data, []byte("BM")):
		return ClassStill, true
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ClassVideo, true // matroska/webm
	case bytes.Equal(data[4:8], []byte("ftyp")):
		brand := string(data[8:12])
		switch brand {
		case "heic", "heix", "heif", "mif1", "msf1":
			return ClassConvertibleStill, true
		default:
			return ClassVideo, true // mp4/mov family
		}
	}
	return ClassUnknown, false
}
