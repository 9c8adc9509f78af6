package segments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"master.m3u8", ContentTypePlaylist},
		{"v0/playlist.M3U8", ContentTypePlaylist},
		{"segment_00042.ts", ContentTypeSegment},
		{"output.mp4", ContentTypeMP4},
		{"init.m4s", ContentTypeMP4},
		{"subs/en.vtt", ContentTypeSubtitle},
		{"README", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeFor(tt.name), tt.name)
	}
}

func TestEnsureEndlist(t *testing.T) {
	t.Run("appends when missing", func(t *testing.T) {
		in := []byte("#EXTM3U\n#EXTINF:4.0,\nsegment_00000.ts\n")
		out := EnsureEndlist(in)
		assert.Equal(t, "#EXTM3U\n#EXTINF:4.0,\nsegment_00000.ts\n#EXT-X-ENDLIST\n", string(out))
	})

	t.Run("adds newline before marker", func(t *testing.T) {
		out := EnsureEndlist([]byte("segment_00000.ts"))
		assert.Equal(t, "segment_00000.ts\n#EXT-X-ENDLIST\n", string(out))
	})

	t.Run("idempotent", func(t *testing.T) {
		in := []byte("#EXTM3U\n#EXT-X-ENDLIST\n")
		assert.Equal(t, in, EnsureEndlist(in))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "#EXT-X-ENDLIST\n", string(EnsureEndlist(nil)))
	})
}
