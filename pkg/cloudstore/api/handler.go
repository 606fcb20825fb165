package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// multipartMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// Handler exposes a cloudstore.Service over HTTP. Every route expects a
// principal in the request context.
type Handler struct {
	service  cloudstore.Service
	maxBytes int64
}

// NewHandler creates a handler. maxObjectBytes bounds request bodies.
func NewHandler(service cloudstore.Service, maxObjectBytes int64) *Handler {
	return &Handler{service: service, maxBytes: maxObjectBytes}
}

// Routes returns the router for file and share endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/files", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.ListFiles)
		r.Get("/usage", h.Usage)
		r.Get("/{id}/download", h.Download)
		r.Delete("/{id}", h.DeleteFile)
		r.Post("/{id}/share", h.ShareFile)
	})

	r.Route("/shares", func(r chi.Router) {
		r.Get("/incoming", h.ListIncoming)
		r.Get("/outgoing", h.ListOutgoing)
		r.Get("/recipients", h.SearchRecipients)
		r.Post("/{id}/accept", h.AcceptShare)
		r.Post("/{id}/reject", h.RejectShare)
	})

	return r
}

func principal(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// Upload stores a file. It accepts a multipart form with a "file" field, or
// a raw body named by the "name" query parameter with a Content-Length.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := principal(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.maxBytes+multipartMemory {
		writeError(w, r, cloudstore.ErrPayloadTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartMemory)

	req := cloudstore.IngestRequest{OwnerID: owner}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, cloudstore.ErrPayloadTooLarge)
				return
			}
			slog.Error("Failed to parse multipart form", "error", err)
			badRequest(w, r, "Invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, r, "Missing file field")
			return
		}
		defer file.Close()

		req.Name = header.Filename
		req.Reader = file
		req.DeclaredSize = header.Size
		req.MediaType = header.Header.Get("Content-Type")
	} else {
		if r.ContentLength < 0 {
			render.Status(r, http.StatusLengthRequired)
			render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "length_required", Message: "Content-Length is required"}})
			return
		}
		req.Name = r.URL.Query().Get("name")
		req.Reader = r.Body
		req.DeclaredSize = r.ContentLength
		req.MediaType = mediaType
	}

	object, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, object)
}

// ListFiles lists the caller's files, newest first
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := principal(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.service.List(r.Context(), owner))
}

// UsageResponse is the usage summary with display values
type UsageResponse struct {
	*cloudstore.UsageSummary
	PercentUsed  float64 `json:"percent_used"`
	UsedHuman    string  `json:"used_human"`
	CeilingHuman string  `json:"ceiling_human"`
}

func newUsageResponse(summary *cloudstore.UsageSummary) UsageResponse {
	return UsageResponse{
		UsageSummary: summary,
		PercentUsed:  summary.PercentUsed(),
		UsedHuman:    humanBytes(summary.ConsumedBytes),
		CeilingHuman: humanBytes(summary.CeilingBytes),
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Usage reports consumption against the quota ceiling
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	owner, ok := principal(w, r)
	if !ok {
		return
	}
	summary, err := h.service.UsageSummary(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, newUsageResponse(summary))
}

// Download streams one of the caller's files
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	owner, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	object, rc, err := h.service.Open(r.Context(), owner, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := object.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(object.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": object.DisplayName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Failed to stream download", "object_id", object.ID, "error", err)
	}
}

// DeleteFile removes one of the caller's files
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), owner, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareRequestBody names the recipients of a share
type ShareRequestBody struct {
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
}

// ShareFile offers one of the caller's files to other principals
func (h *Handler) ShareFile(w http.ResponseWriter, r *http.Request) {
	sender, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body ShareRequestBody
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		slog.Error("Failed to decode request", "error", err)
		badRequest(w, r, "Invalid request body")
		return
	}

	result, err := h.service.Share(r.Context(), sender, id, body.RecipientIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// ListIncoming lists pending and accepted shares addressed to the caller
func (h *Handler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	recipient, ok := principal(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.service.ListIncoming(r.Context(), recipient))
}

// ListOutgoing lists the caller's offers
func (h *Handler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	sender, ok := principal(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.service.ListOutgoing(r.Context(), sender))
}

// SearchRecipients finds principals matching the "query" parameter
func (h *Handler) SearchRecipients(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, h.service.SearchRecipients(r.Context(), caller, r.URL.Query().Get("query")))
}

// AcceptShare copies the shared file into the caller's storage
func (h *Handler) AcceptShare(w http.ResponseWriter, r *http.Request) {
	recipient, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	object, err := h.service.Accept(r.Context(), recipient, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, object)
}

// RejectShare declines a pending share
func (h *Handler) RejectShare(w http.ResponseWriter, r *http.Request) {
	recipient, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Reject(r.Context(), recipient, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
