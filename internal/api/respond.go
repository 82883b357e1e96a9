package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatfn/internal/errs"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError reports err as {"error": msg}. Server-side failures are logged
// in full and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.Status(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"kind", errs.KindOf(err).String(),
			"error", err,
		)
	}
	writeJSON(w, code, map[string]string{"error": errs.PublicMessage(err)})
}

// decodeBody reads a JSON request body of at most 1MB into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errs.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return errs.Validation("request body is required")
		default:
			return errs.Validation("invalid request body: %v", err)
		}
	}
	return nil
}
