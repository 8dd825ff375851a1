package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ggnet/ggboot/internal/controlplane/api/middleware"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// UserHandler handles user management API endpoints.
type UserHandler struct {
	store store.Store
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(s store.Store) *UserHandler {
	return &UserHandler{store: s}
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Active   *bool  `json:"active,omitempty"`
}

// UpdateUserRequest is the request body for PUT /api/v1/users/{username}.
type UpdateUserRequest struct {
	Role   *string `json:"role,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// ChangePasswordRequest is the request body for password change endpoints.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

// Create handles POST /api/v1/users.
// Creates a new user (admin only).
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" {
		BadRequest(w, "Username is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}

	role := models.RoleViewer
	if req.Role != "" {
		role = models.UserRole(req.Role)
		if !role.IsValid() {
			BadRequest(w, "Invalid role. Must be 'admin', 'operator', or 'viewer'")
			return
		}
	}

	passwordHash, err := models.HashPassword(req.Password)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: passwordHash,
		Role:         string(role),
		Active:       true,
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		WriteStoreError(w, err)
		return
	}

	h.audit(r, models.AuditUserCreated, user)
	WriteJSONCreated(w, userToResponse(user))
}

// List handles GET /api/v1/users.
// Lists all users (admin only).
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list users")
		return
	}

	responses := make([]UserResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, userToResponse(user))
	}
	WriteJSONOK(w, responses)
}

// Get handles GET /api/v1/users/{username}.
// Users may fetch their own record; everything else requires admin.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	if claims.Username != username && !claims.IsAdmin() {
		Forbidden(w, "Admin access required")
		return
	}

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSONOK(w, userToResponse(user))
}

// Update handles PUT /api/v1/users/{username}.
// Updates role or active flag (admin only).
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req UpdateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), username)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	if req.Role != nil {
		role := models.UserRole(*req.Role)
		if !role.IsValid() {
			BadRequest(w, "Invalid role. Must be 'admin', 'operator', or 'viewer'")
			return
		}
		if username == models.AdminUsername && role != models.RoleAdmin {
			BadRequest(w, "The bootstrap admin account must keep the admin role")
			return
		}
		user.Role = string(role)
	}
	if req.Active != nil {
		if username == models.AdminUsername && !*req.Active {
			BadRequest(w, "The bootstrap admin account cannot be deactivated")
			return
		}
		user.Active = *req.Active
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		WriteStoreError(w, err)
		return
	}

	h.audit(r, models.AuditUserUpdated, user)
	WriteJSONOK(w, userToResponse(user))
}

// Delete handles DELETE /api/v1/users/{username} (admin only).
// The bootstrap admin account cannot be deleted.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if err := h.store.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		// Refusal to delete the admin account surfaces as a 400.
		BadRequest(w, err.Error())
		return
	}

	WriteNoContent(w)
}

// ResetPassword handles POST /api/v1/users/{username}/password (admin only).
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req ChangePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}

	passwordHash, err := models.HashPassword(req.NewPassword)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	if err := h.store.UpdatePassword(r.Context(), username, passwordHash); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteNoContent(w)
}

// ChangeOwnPassword handles POST /api/v1/users/me/password.
// Requires the current password.
func (h *UserHandler) ChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" {
		BadRequest(w, "Current password is required")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		BadRequest(w, "Password must be at least 8 characters")
		return
	}

	if _, err := h.store.ValidateCredentials(r.Context(), claims.Username, req.CurrentPassword); err != nil {
		Unauthorized(w, "Current password is incorrect")
		return
	}

	passwordHash, err := models.HashPassword(req.NewPassword)
	if err != nil {
		InternalServerError(w, "Failed to hash password")
		return
	}

	if err := h.store.UpdatePassword(r.Context(), claims.Username, passwordHash); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteNoContent(w)
}

func (h *UserHandler) audit(r *http.Request, action string, user *models.User) {
	entry := &models.AuditLog{
		Action:   action,
		Actor:    actorName(r),
		Resource: "user",
		RecordID: user.ID,
		Detail:   user.Username,
		ClientIP: r.RemoteAddr,
	}
	if lc := logger.FromContext(r.Context()); lc != nil {
		entry.TraceID = lc.TraceID
		entry.ClientIP = lc.ClientIP
	}
	if err := h.store.AppendAuditLog(r.Context(), entry); err != nil {
		logger.WarnCtx(r.Context(), "appending user audit entry failed", logger.Err(err))
	}
}
