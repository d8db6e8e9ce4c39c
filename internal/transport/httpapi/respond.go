package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"dynastycore/pkg/domain"
)

type errorBody struct {
	Error      domain.ErrorKind   `json:"error"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	body := errorBody{Error: kind, Message: err.Error()}
	var verr domain.ValidationError
	var rerr domain.RuleViolationError
	switch {
	case errors.As(err, &verr):
		body.Violations = verr.Violations
	case errors.As(err, &rerr):
		body.Violations = rerr.Result.Blocking()
	}
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

// decode reads a single JSON object, rejecting unknown fields.
func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ValidationError{Message: "request body required"}
		}
		return domain.ValidationError{Message: fmt.Sprintf("malformed request body: %v", err)}
	}
	return nil
}
