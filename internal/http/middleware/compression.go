package middleware

import (
	"net/http"
	"strings"
)

// SSEPathSuffix marks event-stream endpoints.
const SSEPathSuffix = "/events"

// SkipCompressionForSSE wraps a compression middleware so that event streams
// bypass it. Compressing writers buffer output and break per-event flushing.
func SkipCompressionForSSE(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isEventStream(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}

func isEventStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, SSEPathSuffix)
}
