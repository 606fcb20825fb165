package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{cloudstore.ErrNotFound, http.StatusNotFound, "not_found"},
	{cloudstore.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
	{cloudstore.ErrQuotaExceeded, http.StatusInsufficientStorage, "quota_exceeded"},
	{cloudstore.ErrInvalidRecipient, http.StatusBadRequest, "invalid_recipient"},
	{cloudstore.ErrTooManyRecipients, http.StatusBadRequest, "too_many_recipients"},
	{cloudstore.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{cloudstore.ErrInvalidPrincipal, http.StatusBadRequest, "invalid_principal"},
	// Faults first: stored bytes that drift from the catalog are not the
	// caller's mistake.
	{cloudstore.ErrStorageFault, http.StatusInternalServerError, "storage_fault"},
	{cloudstore.ErrSizeMismatch, http.StatusBadRequest, "size_mismatch"},
	{cloudstore.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{cloudstore.ErrSourceGone, http.StatusGone, "source_gone"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// writeError maps service errors to HTTP statuses. Storage faults are logged
// and their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			status, code = e.status, e.code
			break
		}
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = http.StatusText(status)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "bad_request", Message: message}})
}
