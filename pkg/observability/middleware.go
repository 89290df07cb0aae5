package observability

import (
	"net/http"
	"strings"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// operationName flattens a request path into a stable metric label,
// collapsing entity ids so cardinality stays bounded.
func operationName(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i := range parts {
		// Path ids follow the collection segment.
		if i > 0 && (parts[i-1] == "purchases" || parts[i-1] == "contributions") {
			parts[i] = "{id}"
		}
	}
	return r.Method + " /" + strings.Join(parts, "/")
}

// Middleware wraps an HTTP handler with the RED instruments: one span
// per request, with error counted on 5xx responses.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := p.StartOperation(r.Context(), operationName(r))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		var err error
		if sw.status >= 500 {
			err = &serverError{status: sw.status}
		}
		done(err)
	})
}

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return http.StatusText(e.status)
}
