package auth

import (
	"encoding/json"
	"net/http"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

const (
	msgServiceUnavailable = "Service unavailable."
	msgInternal           = "Internal server error."
)

// ErrorResponse is the body written for every rejection.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RejectionStatus returns the HTTP status for err. Store failures, timeouts
// included, are always 503.
func RejectionStatus(err *sserr.Error) int {
	if sserr.IsStoreFailure(err) {
		return http.StatusServiceUnavailable
	}
	return err.HTTPStatus()
}

// WriteError writes err as a JSON rejection. Only err.Message reaches the
// caller.
func WriteError(w http.ResponseWriter, err *sserr.Error) {
	status := RejectionStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: status, Message: err.Message})
}

// serverFailure replaces the message of a backend error with a fixed one
// and keeps the original as the cause.
func serverFailure(err error) *sserr.Error {
	e := sserr.FromError(err)
	if sserr.IsStoreFailure(e) {
		return &sserr.Error{Code: e.Code, Message: msgServiceUnavailable, Cause: err, Details: e.Details}
	}
	return &sserr.Error{Code: sserr.CodeInternal, Message: msgInternal, Cause: err, Details: e.Details}
}
