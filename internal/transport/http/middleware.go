package http

import (
	"log"
	"net/http"
	"time"
)

// RequestLogger writes one line per request with the final status and the
// time spent in the handler chain.
func RequestLogger(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		logger.Printf(
			"http method=%s path=%s status=%d elapsed=%s",
			r.Method,
			r.URL.Path,
			sw.code,
			time.Since(start),
		)
	})
}

// statusWriter remembers the status code so it can be logged; handlers that
// never call WriteHeader implicitly answer 200.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
