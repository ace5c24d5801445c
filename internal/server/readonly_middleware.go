package server

import "net/http"

// ReadOnlyMiddleware rejects every request that could change state.
// Only GET, HEAD, and OPTIONS requests are allowed.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			WriteProblem(w, Problem{
				Type:     ProblemTypeMethodNotAllowed,
				Title:    "Method Not Allowed",
				Status:   http.StatusMethodNotAllowed,
				Detail:   "server is read-only",
				Instance: r.URL.Path,
			})
		}
	})
}
