package server

import (
	"encoding/json"
	"io"
	"net/http"

	serrors "lodestone/internal/errors"
)

// envelope is the uniform response shape: success carries data, failure
// carries a stable error code and message.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// maxBodyBytes bounds JSON request bodies. File uploads have their own,
// configurable cap.
const maxBodyBytes = 8 << 20

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

// respondError maps the service error taxonomy to HTTP statuses. Internal
// causes go to the log, never to the wire.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	se := serrors.AsService(err)
	switch {
	case serrors.IsNotFound(err), serrors.IsValidation(err):
		// Client mistakes are routine; keep them out of the error log.
		s.logger.Debug("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", se.Code)
	case se.Code == serrors.CodeInternal:
		attrs := []any{"method", r.Method, "path", r.URL.Path, "error", err}
		for k, v := range se.Details {
			attrs = append(attrs, k, v)
		}
		s.logger.Error("request failed", attrs...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.HTTPStatus())
	if encErr := json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &errorBody{Code: se.Code, Message: se.Message},
	}); encErr != nil {
		s.logger.Warn("failed to write error response", "error", encErr)
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched,
// so requests with all-default parameters can omit the body entirely.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return serrors.Validation("Failed to read request body", err)
	}
	if len(body) > maxBodyBytes {
		return serrors.Validationf("Request body exceeds %d bytes", maxBodyBytes)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return serrors.Validation("Invalid JSON body: "+err.Error(), err)
	}
	return nil
}
