package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload of access tokens issued by the
// classroom identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor identifies who is calling an evaluation endpoint. Anonymous callers
// only carry a session id.
type Actor struct {
	UserID    string
	Role      UserRole
	SessionID string
}

// SessionKey returns the identity used to remember previewed scripts.
func (a Actor) SessionKey() string {
	if a.UserID != "" {
		return "user:" + a.UserID
	}
	if a.SessionID != "" {
		return "session:" + a.SessionID
	}
	return ""
}

// IsStaff reports whether the actor may manage teacher databases.
func (a Actor) IsStaff() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}
