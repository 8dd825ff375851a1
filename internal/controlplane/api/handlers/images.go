package handlers

import (
	"net/http"

	"github.com/ggnet/ggboot/internal/controlplane/api/middleware"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/ggnet/ggboot/pkg/imagestore"
)

// ImageHandler handles image management API endpoints.
type ImageHandler struct {
	store  store.Store
	images *imagestore.ImageStore
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(s store.Store, images *imagestore.ImageStore) *ImageHandler {
	return &ImageHandler{store: s, images: images}
}

// UpdateImageRequest is the request body for PATCH /api/v1/images/{id}.
type UpdateImageRequest struct {
	Name      *string `json:"name,omitempty"`
	ImageType *string `json:"image_type,omitempty"`
}

// Upload handles POST /api/v1/images (operator).
//
// Accepts a multipart form with a "file" part and optional "name" and
// "image_type" fields. The upload is streamed to disk; checksums are
// computed in the same pass.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		BadRequest(w, "Multipart form data required")
		return
	}

	req := imagestore.UploadRequest{}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		req.CreatedBy = claims.UserID
	}

	// Form fields must precede the file part: the file is streamed to disk
	// as it arrives, so metadata after it would come too late.
	for {
		part, err := reader.NextPart()
		if err != nil {
			BadRequest(w, "Multipart form must contain a file part")
			return
		}

		switch part.FormName() {
		case "name":
			req.Name = formValue(part, 255)
		case "image_type":
			req.ImageType = formValue(part, 64)
		case "file":
			req.Filename = part.FileName()
			if req.Name == "" {
				req.Name = req.Filename
			}
			image, err := h.images.AcceptUpload(r.Context(), req, part)
			if err != nil {
				WriteStoreError(w, err)
				return
			}
			WriteJSONCreated(w, image)
			return
		default:
			// Skip unknown fields.
			_ = formValue(part, 0)
		}
	}
}

// List handles GET /api/v1/images.
// Supports status and type query filters; deleted images are hidden unless
// include_deleted=true.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.ImageFilter{
		Status:         r.URL.Query().Get("status"),
		ImageType:      r.URL.Query().Get("type"),
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
	}

	images, err := h.store.ListImages(r.Context(), filter)
	if err != nil {
		InternalServerError(w, "Failed to list images")
		return
	}
	WriteJSONOK(w, images)
}

// Get handles GET /api/v1/images/{id}.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	image, err := h.store.GetImage(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, image)
}

// Update handles PATCH /api/v1/images/{id} (operator).
// Only name and image type are caller-editable; everything else is owned by
// the upload and conversion pipeline.
func (h *ImageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	image, err := h.store.GetImage(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	var req UpdateImageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		image.Name = *req.Name
	}
	if req.ImageType != nil {
		image.ImageType = *req.ImageType
	}
	if err := image.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.store.UpdateImage(r.Context(), image); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, image)
}

// Delete handles DELETE /api/v1/images/{id} (operator).
// Refused while a target references the image.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	var actorID uint
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		actorID = claims.UserID
	}

	if err := h.images.Delete(r.Context(), id, actorID); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteNoContent(w)
}

// Integrity handles GET /api/v1/images/{id}/integrity.
// Returns the stored checksums for client-side verification.
func (h *ImageHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	integrity, err := h.images.GetIntegrity(r.Context(), id)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, integrity)
}
