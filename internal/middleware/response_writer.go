package middleware

import (
	"net/http"
)

// StatusRecorder remembers the status and size of a response for logging
// and metrics. The first WriteHeader wins.
type StatusRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int

	wroteHeader bool
}

// NewStatusRecorder wraps w. The status defaults to 200 for handlers that
// only call Write.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.StatusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
