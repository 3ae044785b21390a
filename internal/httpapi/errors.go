package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ragqa/internal/domain"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch kind := domain.KindOf(err); {
	case errors.Is(kind, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(kind, domain.ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(kind, domain.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(kind, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(kind, domain.ErrSynthesisFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Stage: string(domain.StageOf(err))}
	if kind := domain.KindOf(err); kind != nil {
		resp.Kind = strings.ReplaceAll(kind.Error(), " ", "_")
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody(err))
}
