package security

import "time"

// TokenClaims is what the identity service puts in an access token. SchoolID
// is empty for platform admins and set for school-scoped roles.
type TokenClaims struct {
	UserID   string
	Role     string
	SchoolID string
	Ver      int64
	Exp      time.Time
	Issuer   string
	Subject  string
}

const (
	RoleAdmin        = "ADMIN"
	RoleEventManager = "EVENT_MANAGER"
	RoleStudent      = "STUDENT"
)
