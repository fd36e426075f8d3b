package authorization

import (
	"context"
	"errors"
)

const (
	ObjectPartner     = "partner"
	ObjectPartnerUser = "partner_user"
	ObjectZone        = "zone"
	ObjectAPIKey      = "api_key"
	ObjectOrder       = "order"
	ObjectDriver      = "driver"
	ObjectUsage       = "usage"
	ObjectInvoice     = "invoice"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionView     = "view"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionManage   = "manage"
	ActionGenerate = "generate"
	ActionInvite   = "invite"
	ActionCorrect  = "correct"
	ActionClose    = "close"
	ActionIssue    = "issue"
	ActionPay      = "pay"
)

type Service interface {
	// Authorize checks the caller carried by ctx against object/action.
	Authorize(ctx context.Context, object, action string) error
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidObject   = errors.New("invalid_object")
	ErrInvalidAction   = errors.New("invalid_action")
	ErrUnauthenticated = errors.New("unauthenticated")
)
