package rest

import (
	"context"

	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/domain"
)

type ctxKeyUserID struct{}
type ctxKeyRole struct{}
type ctxKeySchoolID struct{}
type ctxKeyTokenVer struct{}

// AuthContext is the verified caller. SchoolID is uuid.Nil unless the token
// carries a school claim (admins have none).
type AuthContext struct {
	UserID   uuid.UUID
	Role     domain.Role
	SchoolID uuid.UUID
	Ver      int64
}

func withAuth(ctx context.Context, a AuthContext) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID{}, a.UserID)
	ctx = context.WithValue(ctx, ctxKeyRole{}, a.Role)
	ctx = context.WithValue(ctx, ctxKeySchoolID{}, a.SchoolID)
	ctx = context.WithValue(ctx, ctxKeyTokenVer{}, a.Ver)
	return ctx
}

func GetAuth(ctx context.Context) (AuthContext, bool) {
	uid, ok := ctx.Value(ctxKeyUserID{}).(uuid.UUID)
	if !ok {
		return AuthContext{}, false
	}
	role, _ := ctx.Value(ctxKeyRole{}).(domain.Role)
	schoolID, _ := ctx.Value(ctxKeySchoolID{}).(uuid.UUID)
	ver, _ := ctx.Value(ctxKeyTokenVer{}).(int64)

	return AuthContext{UserID: uid, Role: role, SchoolID: schoolID, Ver: ver}, true
}

// ActorFromClaims maps an authenticated caller to a bulk-capable actor
// variant. Students run self-service only and get none.
func ActorFromClaims(a AuthContext) (domain.Actor, bool) {
	switch a.Role {
	case domain.RoleAdmin:
		return domain.Admin{ID: a.UserID}, true
	case domain.RoleEventManager:
		return domain.EventManager{ID: a.UserID, SchoolID: a.SchoolID}, true
	default:
		return nil, false
	}
}
