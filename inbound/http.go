package inbound

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// NewHTTPHandler mounts the listener on POST {callbackPath}{pubKey}.
func NewHTTPHandler(listener *Listener) http.Handler {
	router := chi.NewRouter()
	base := "/" + strings.Trim(listener.callbackPath(), "/")
	router.Post(base+"/{pubKey}", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, listener.maxPayloadSize()+1))
		if err != nil {
			writeResult(w, result(http.StatusServiceUnavailable, "Failed to read payload: %v", err))
			return
		}
		res := listener.Handle(r.Context(), Delivery{
			Path:    r.URL.Path,
			Headers: r.Header,
			Body:    body,
		})
		writeResult(w, res)
	})
	return router
}

func writeResult(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.StatusCode)
	_, _ = io.WriteString(w, res.Message)
}
