package models

import "errors"

// Common errors for control plane operations.
//
// The error families map onto the API's response classes: *NotFound errors
// become 404s, Duplicate*/conflict errors become 409s, and validation errors
// (invalid MAC, image not ready, machine not active) become 400s.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrUserLocked         = errors.New("user account is temporarily locked")
	ErrInvalidCredentials = errors.New("invalid username or password")

	// Image errors
	ErrImageNotFound      = errors.New("image not found")
	ErrDuplicateImage     = errors.New("image with this name already exists")
	ErrImageNotReady      = errors.New("image is not in ready status")
	ErrImageInUse         = errors.New("image is referenced by an active target")
	ErrInvalidImageFormat = errors.New("unrecognized image format")
	ErrQuotaExceeded      = errors.New("upload exceeds the configured size limit")

	// Machine errors
	ErrMachineNotFound  = errors.New("machine not found")
	ErrDuplicateMachine = errors.New("machine already exists")
	ErrMachineNotActive = errors.New("machine is not in active status")
	ErrInvalidMAC       = errors.New("invalid MAC address")
	ErrInvalidIP        = errors.New("invalid IPv4 address")

	// Target errors
	ErrTargetNotFound   = errors.New("target not found")
	ErrDuplicateTarget  = errors.New("target already exists")
	ErrMachineHasTarget = errors.New("machine already has an iSCSI target")

	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionConflict  = errors.New("machine already has an active session")
	ErrSessionNotActive = errors.New("session is not active")
)
