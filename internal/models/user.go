package models

// Role represents operator roles on the read API
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Operator is an account allowed to read the scene API. Operators come
// from configuration, not from a user database.
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	Operator  Operator `json:"operator"`
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if an operator may perform a specific action
func (o *Operator) HasPermission(action string) bool {
	switch o.Role {
	case RoleAdmin:
		return true
	case RoleViewer:
		return action == "view_scene" || action == "view_vehicles"
	default:
		return false
	}
}
