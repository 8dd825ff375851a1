// Package auth provides JWT authentication for the ggboot API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

// TokenType indicates whether a token is an access token or refresh token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived token used for API authorization.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a long-lived token used to obtain new access tokens.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims represents JWT claims for ggboot authentication.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the user's database id.
	UserID uint `json:"uid"`

	// Username is the human-readable username.
	Username string `json:"username"`

	// Role is the user's role ("admin", "operator", or "viewer").
	Role string `json:"role"`

	// TokenType indicates whether this is an access or refresh token.
	TokenType TokenType `json:"token_type"`
}

// IsAccessToken returns true if this is an access token.
func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

// IsRefreshToken returns true if this is a refresh token.
func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// IsAdmin returns true if the user has admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == string(models.RoleAdmin)
}

// CanOperate returns true if the user may manage machines, images, and
// sessions (admin or operator).
func (c *Claims) CanOperate() bool {
	return c.Role == string(models.RoleAdmin) || c.Role == string(models.RoleOperator)
}
