package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/procedo/internal/common"
)

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": message} with a status derived from err.
// Internal failures never leak their cause to the client.
func WriteError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := common.HTTPStatus(err)
	msg := common.PublicMessage(err)
	var appErr *common.AppError
	if code == http.StatusInternalServerError && !errors.As(err, &appErr) {
		msg = "Internal server error"
	}
	if code >= http.StatusInternalServerError {
		logger.Error("http.request.failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", common.RequestIDFromContext(r.Context()),
			"err", err,
		)
	}
	_ = WriteJSON(w, code, map[string]string{"error": msg})
}
