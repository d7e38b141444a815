package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kislikjeka/ledgerd/internal/shared/errors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondWithJSON is an alias for respondJSON (for compatibility)
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ErrorResponse{Error: message}, statusCode)
}

// respondWithError is an alias for respondError (for compatibility)
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithAppError writes an AppError as its mapped HTTP status, with
// both the client-facing message and the stable error code in the body.
func respondWithAppError(w http.ResponseWriter, err *apperrors.AppError) {
	respondWithJSON(w, appErrorStatus(err.Code), map[string]string{
		"error": err.Message,
		"code":  err.Code,
	})
}

// appErrorStatus maps an AppError code onto the HTTP status a client sees.
func appErrorStatus(code string) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeBadRequest, apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeInsufficientBalance, apperrors.ErrCodeLedgerUnbalanced:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
