// Package handlers provides HTTP handlers for the ggboot API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance carries the request's correlation id so a client report can
	// be matched to server logs and audit rows.
	Instance string `json:"instance,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

// HeaderRequestID is the response header carrying the correlation id. The
// request-logging middleware sets it before handlers run; the problem writer
// reads it back.
const HeaderRequestID = "X-Request-Id"

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: w.Header().Get(HeaderRequestID),
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// PayloadTooLarge writes a 413 Content Too Large problem response.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusRequestEntityTooLarge, "Content Too Large", detail)
}

// BadGateway writes a 502 Bad Gateway problem response. Used when an
// external tool (targetcli, dhcpd, qemu-img) fails underneath an operation.
func BadGateway(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadGateway, "External Tool Failure", detail)
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteStoreError maps a domain error onto the right problem response.
// Not-found sentinels become 404s, duplicates and conflicts 409s, and
// validation sentinels 400s; anything unrecognized is a 500.
func WriteStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrImageNotFound),
		errors.Is(err, models.ErrMachineNotFound),
		errors.Is(err, models.ErrTargetNotFound),
		errors.Is(err, models.ErrSessionNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrDuplicateUser),
		errors.Is(err, models.ErrDuplicateImage),
		errors.Is(err, models.ErrDuplicateMachine),
		errors.Is(err, models.ErrDuplicateTarget),
		errors.Is(err, models.ErrMachineHasTarget),
		errors.Is(err, models.ErrSessionConflict),
		errors.Is(err, models.ErrImageInUse):
		Conflict(w, err.Error())
	case errors.Is(err, models.ErrInvalidMAC),
		errors.Is(err, models.ErrInvalidIP),
		errors.Is(err, models.ErrInvalidImageFormat),
		errors.Is(err, models.ErrImageNotReady),
		errors.Is(err, models.ErrMachineNotActive),
		errors.Is(err, models.ErrSessionNotActive):
		BadRequest(w, err.Error())
	case errors.Is(err, models.ErrQuotaExceeded):
		PayloadTooLarge(w, err.Error())
	default:
		InternalServerError(w, err.Error())
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONCreated writes a 201 Created JSON response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 No Content response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
