// Package partnercontext carries the authenticated caller through a request.
package partnercontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

const (
	CredentialAPIKey  = "api_key"
	CredentialSession = "session"

	ActorPartnerUser = "partner_user"
	ActorAPIKey      = "api_key"
	ActorZeusAdmin   = "zeus_admin"
	ActorSystem      = "system"
)

// PartnerContext is the resolved identity of a partner caller.
type PartnerContext struct {
	PartnerID    snowflake.ID
	Role         string
	UserID       snowflake.ID
	SessionID    string
	Credential   string
	ReadOnly     bool
	APIRateLimit int64
}

// AdminContext is the resolved identity of a Zeus operator.
type AdminContext struct {
	AdminID   snowflake.ID
	Role      string
	SessionID string
}

type partnerKey struct{}
type adminKey struct{}
type requestIDKey struct{}

func WithPartner(ctx context.Context, pc PartnerContext) context.Context {
	return context.WithValue(ctx, partnerKey{}, pc)
}

func PartnerFromContext(ctx context.Context) (PartnerContext, bool) {
	if ctx == nil {
		return PartnerContext{}, false
	}
	pc, ok := ctx.Value(partnerKey{}).(PartnerContext)
	if !ok || pc.PartnerID == 0 {
		return PartnerContext{}, false
	}
	return pc, true
}

func WithAdmin(ctx context.Context, ac AdminContext) context.Context {
	return context.WithValue(ctx, adminKey{}, ac)
}

func AdminFromContext(ctx context.Context) (AdminContext, bool) {
	if ctx == nil {
		return AdminContext{}, false
	}
	ac, ok := ctx.Value(adminKey{}).(AdminContext)
	if !ok || ac.AdminID == 0 {
		return AdminContext{}, false
	}
	return ac, true
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Actor describes whoever is acting in ctx, falling back to the system actor.
func Actor(ctx context.Context) (actorType, actorID string) {
	if ac, ok := AdminFromContext(ctx); ok {
		return ActorZeusAdmin, ac.AdminID.String()
	}
	if pc, ok := PartnerFromContext(ctx); ok {
		if pc.Credential == CredentialAPIKey {
			return ActorAPIKey, pc.PartnerID.String()
		}
		return ActorPartnerUser, pc.UserID.String()
	}
	return ActorSystem, ""
}
