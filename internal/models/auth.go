package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens issued upstream.
type JWTClaims struct {
	UserID   string    `json:"user_id"`
	Role     ActorRole `json:"role"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	City     *string   `json:"city,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the capability value used by services.
func (c JWTClaims) Actor() Actor {
	return Actor{UserID: c.UserID, Role: c.Role, City: c.City}
}
