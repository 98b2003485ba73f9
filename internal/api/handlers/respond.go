package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// clientMessages are the user-facing texts of the validation errors.
var clientMessages = map[error]string{
	services.ErrNoFilesProvided: "No files uploaded",
	services.ErrNoSessionID:     "No chat ID provided",
	services.ErrNoQuery:         "No message provided",
	services.ErrJobNotFound:     "Job not found",
}

// writeServiceError maps service errors to status codes. Anything that is
// not a known client error is logged and reported as fallback.
func writeServiceError(w http.ResponseWriter, logger *log.Logger, err error, fallback string) {
	for target, msg := range clientMessages {
		if errors.Is(err, target) {
			status := http.StatusBadRequest
			if target == services.ErrJobNotFound {
				status = http.StatusNotFound
			}
			writeError(w, status, msg)
			return
		}
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
	case errors.Is(err, services.ErrTooManyFiles), errors.Is(err, services.ErrNotPDF):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Msg(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
