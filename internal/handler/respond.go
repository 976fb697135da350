package handler

import (
	"errors"
	"net/http"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/httpjson"
)

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	httpjson.Write(w, status, data)
}

// RespondError writes a JSON error response, detecting domain.AppError for status codes.
// Internal errors never leak their cause.
func RespondError(w http.ResponseWriter, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) && appErr.Code != domain.CodeInternal {
		body := map[string]interface{}{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if details := validationDetails(err); details != nil {
			body["details"] = details
		}
		RespondJSON(w, appErr.Status, body)
		return
	}
	RespondJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    domain.CodeInternal,
		"message": "internal server error",
	})
}
