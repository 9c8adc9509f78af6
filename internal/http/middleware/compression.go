package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressionLevel balances CPU against ratio; 5 is valid for both
// gzip (1..9) and brotli (0..11).
const compressionLevel = 5

// NewCompressor builds the response compressor: chi's gzip/deflate set
// extended with a brotli encoder. Only text-like content types are
// compressed; media payloads pass through untouched.
func NewCompressor() func(http.Handler) http.Handler {
	compressor := chimiddleware.NewCompressor(compressionLevel)
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return compressor.Handler
}

// SkipCompressionForMedia wraps a compression middleware so the stream,
// download, and websocket surfaces bypass it entirely. Segments and
// batch outputs are already-compressed video, and the websocket
// upgrade needs the raw connection.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if strings.HasPrefix(p, "/stream/") ||
				strings.HasPrefix(p, "/download/") ||
				strings.HasPrefix(p, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			compressed.ServeHTTP(w, r)
		})
	}
}
