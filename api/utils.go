package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"vigil/core"
	"vigil/service"
	"vigil/storage"
	"vigil/util"

	"go.uber.org/zap"
)

const maxErrorMessageLength = 500

var (
	connectionStringPattern = regexp.MustCompile(`(?:sqlite|redis|file)://[^\s"']+`)
	filePathPattern         = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	credentialPattern       = regexp.MustCompile(`(?i)(password|secret|token|key|credential|auth)[:=]\s*["']?[^"'\s]+["']?`)
	idPattern               = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = credentialPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > maxErrorMessageLength {
		message = util.TruncateUTF8(message, maxErrorMessageLength-3) + "..."
	}
	return message
}

// writeError logs the full error and writes a sanitized message to the client
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, "error", err, "status_code", statusCode)
		} else {
			logger.Debugw(message, "error", err, "status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// writeServiceError maps domain errors onto HTTP status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "Alert not found", err, a.logger)
	case errors.Is(err, storage.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "Incident not found", err, a.logger)
	case errors.Is(err, storage.ErrDuplicateAlert):
		writeError(w, http.StatusConflict, "Alert already exists", err, a.logger)
	case errors.Is(err, storage.ErrStaleIncident):
		writeError(w, http.StatusConflict, "Incident was modified concurrently, retry", err, a.logger)
	case errors.Is(err, core.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), err, a.logger)
	case errors.Is(err, service.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
	}
}

// respondJSON writes a JSON response
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already started, can't send error to client
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// readBody reads a size-limited request body
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		} else {
			writeError(w, http.StatusBadRequest, "Failed to read request body", err, a.logger)
		}
		return nil, false
	}
	return body, true
}

// decodeJSON strictly decodes body into dst, writing the error response on failure
func (a *API) decodeJSON(w http.ResponseWriter, body []byte, dst interface{}) bool {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
		case errors.As(err, &unmarshalTypeError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s'", unmarshalTypeError.Field), err, a.logger)
		case strings.Contains(err.Error(), "unknown field"):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("JSON contains %s", err.Error()), err, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		}
		return false
	}
	return true
}

// validateID accepts the opaque identifiers collaborators assign to alerts
func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid id format: %q", id)
	}
	return nil
}
