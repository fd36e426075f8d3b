package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionZoneCreate        = "geofence.create"
	ActionZoneUpdate        = "geofence.update"
	ActionZoneDeactivate    = "geofence.deactivate"
	ActionZoneDelete        = "geofence.delete"
	ActionAPIKeyGenerate    = "api_key.generate"
	ActionPartnerCreate     = "partner.create"
	ActionPartnerUpdate     = "partner.update"
	ActionPartnerStatus     = "partner.status"
	ActionPartnerDelete     = "partner.delete"
	ActionUsageCorrect      = "usage.correct"
	ActionInvoiceCreate     = "invoice.create"
	ActionInvoiceIssue      = "invoice.issue"
	ActionInvoicePaid       = "invoice.paid"
	ActionPartnerUserInvite = "partner_user.invite"

	ActionAuthorizationDenied = "authorization.denied"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	PartnerID  *snowflake.ID     `gorm:"column:partner_id" json:"partner_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action" json:"action"`
	TargetType string            `gorm:"column:target_type" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	RequestID  *string           `gorm:"column:request_id" json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	PartnerID  *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Limit      int
	Offset     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

// Service records privileged changes. Record must be given the transaction
// handle of the change it describes so both commit together.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, filter ListFilter) ([]AuditLog, error)
}

type Entry struct {
	PartnerID  *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
