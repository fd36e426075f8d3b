package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	partnerRolePrefix = "partner:"
	zeusRolePrefix    = "zeus:"
	partnerMember     = "partner:member"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewGormEnforcer keeps policies in the casbin_rule table.
func NewGormEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return NewEnforcer(adapter)
}

// NewEnforcer builds the enforcer and seeds the role policies. A nil adapter
// keeps policies in memory.
func NewEnforcer(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	var enforcer *casbin.SyncedEnforcer
	if adapter == nil {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(adapter != nil)
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, readOnly, ok := subjectFor(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if readOnly && action != ActionView {
		s.denied(ctx, subject, object, action, "restricted")
		return ErrForbidden
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.denied(ctx, subject, object, action, "policy")
		return ErrForbidden
	}
	return nil
}

func subjectFor(ctx context.Context) (string, bool, bool) {
	if ac, ok := partnercontext.AdminFromContext(ctx); ok {
		return zeusRolePrefix + strings.ToLower(ac.Role), false, true
	}
	if pc, ok := partnercontext.PartnerFromContext(ctx); ok {
		return partnerRolePrefix + strings.ToLower(pc.Role), pc.ReadOnly, true
	}
	return "", false, false
}

func (s *ServiceImpl) denied(ctx context.Context, subject, object, action, reason string) {
	s.log.Warn("authorization denied",
		zap.String("subject", subject),
		zap.String("object", object),
		zap.String("action", action),
		zap.String("reason", reason),
	)
	if s.auditSvc == nil {
		return
	}
	var partnerID *snowflake.ID
	if pc, ok := partnercontext.PartnerFromContext(ctx); ok {
		id := pc.PartnerID
		partnerID = &id
	}
	if err := s.auditSvc.Record(ctx, s.db, auditdomain.Entry{
		PartnerID:  partnerID,
		Action:     auditdomain.ActionAuthorizationDenied,
		TargetType: object,
		TargetID:   action,
		Metadata: map[string]any{
			"subject": subject,
			"reason":  reason,
		},
	}); err != nil {
		s.log.Warn("failed to audit denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Every partner role can see its own partner and zones.
		{partnerMember, ObjectPartner, ActionView},
		{partnerMember, ObjectZone, ActionView},

		{"partner:admin", ObjectZone, ActionCreate},
		{"partner:admin", ObjectZone, ActionUpdate},
		{"partner:admin", ObjectZone, ActionDelete},
		{"partner:admin", ObjectAPIKey, ActionView},
		{"partner:admin", ObjectAPIKey, ActionGenerate},
		{"partner:admin", ObjectOrder, ActionCreate},
		{"partner:admin", ObjectDriver, ActionCreate},
		{"partner:admin", ObjectUsage, ActionView},
		{"partner:admin", ObjectInvoice, ActionView},
		{"partner:admin", ObjectPartnerUser, ActionView},
		{"partner:admin", ObjectPartnerUser, ActionInvite},

		{"partner:ops", ObjectZone, ActionCreate},
		{"partner:ops", ObjectZone, ActionUpdate},
		{"partner:ops", ObjectZone, ActionDelete},
		{"partner:ops", ObjectAPIKey, ActionView},
		{"partner:ops", ObjectAPIKey, ActionGenerate},
		{"partner:ops", ObjectOrder, ActionCreate},
		{"partner:ops", ObjectDriver, ActionCreate},

		{"partner:finance", ObjectUsage, ActionView},
		{"partner:finance", ObjectInvoice, ActionView},

		{"zeus:super_admin", ObjectPartner, ActionView},
		{"zeus:super_admin", ObjectPartner, ActionManage},
		{"zeus:super_admin", ObjectPartnerUser, ActionView},
		{"zeus:super_admin", ObjectPartnerUser, ActionInvite},
		{"zeus:super_admin", ObjectZone, ActionView},
		{"zeus:super_admin", ObjectZone, ActionCreate},
		{"zeus:super_admin", ObjectZone, ActionUpdate},
		{"zeus:super_admin", ObjectZone, ActionDelete},
		{"zeus:super_admin", ObjectUsage, ActionView},
		{"zeus:super_admin", ObjectUsage, ActionCorrect},
		{"zeus:super_admin", ObjectInvoice, ActionView},
		{"zeus:super_admin", ObjectInvoice, ActionClose},
		{"zeus:super_admin", ObjectInvoice, ActionIssue},
		{"zeus:super_admin", ObjectInvoice, ActionPay},
		{"zeus:super_admin", ObjectAuditLog, ActionView},

		{"zeus:ops", ObjectPartner, ActionView},
		{"zeus:ops", ObjectZone, ActionView},
		{"zeus:ops", ObjectZone, ActionCreate},
		{"zeus:ops", ObjectZone, ActionUpdate},
		{"zeus:ops", ObjectUsage, ActionView},

		{"zeus:finance", ObjectPartner, ActionView},
		{"zeus:finance", ObjectUsage, ActionView},
		{"zeus:finance", ObjectUsage, ActionCorrect},
		{"zeus:finance", ObjectInvoice, ActionView},
		{"zeus:finance", ObjectInvoice, ActionClose},
		{"zeus:finance", ObjectInvoice, ActionIssue},
		{"zeus:finance", ObjectInvoice, ActionPay},
	}
	for _, p := range policies {
		has, err := enforcer.HasPolicy(p[0], p[1], p[2])
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
	}

	for _, role := range []string{"partner:admin", "partner:ops", "partner:finance", "partner:readonly"} {
		has, err := enforcer.HasGroupingPolicy(role, partnerMember)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(role, partnerMember); err != nil {
			return err
		}
	}
	return nil
}
