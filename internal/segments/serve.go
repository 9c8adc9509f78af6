package segments

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Content types for the stream and download surfaces.
const (
	// ContentTypePlaylist is the MIME type for HLS playlists (.m3u8).
	ContentTypePlaylist = "application/vnd.apple.mpegurl"

	// ContentTypeSegment is the MIME type for MPEG-TS segments (.ts).
	ContentTypeSegment = "video/mp2t"

	// ContentTypeMP4 is the MIME type for MP4 outputs and fMP4 segments.
	ContentTypeMP4 = "video/mp4"

	// ContentTypeSubtitle is the MIME type for WebVTT tracks (.vtt).
	ContentTypeSubtitle = "text/vtt"
)

var endlistMarker = []byte("#EXT-X-ENDLIST")

// ContentTypeFor maps a stream file name to its media type. Unknown
// extensions fall back to a generic binary type.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	case ".mp4", ".m4s":
		return ContentTypeMP4
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".vtt":
		return ContentTypeSubtitle
	default:
		return "application/octet-stream"
	}
}

// EnsureEndlist appends the end-of-stream marker to playlist bytes
// when it is missing. The bytes are amended as-is rather than
// round-tripped through a parser, so a playlist ffmpeg is still
// mid-write stays byte-identical apart from the trailing marker.
func EnsureEndlist(data []byte) []byte {
	if bytes.Contains(data, endlistMarker) {
		return data
	}
	out := make([]byte, 0, len(data)+len(endlistMarker)+2)
	out = append(out, data...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, endlistMarker...)
	out = append(out, '\n')
	return out
}
