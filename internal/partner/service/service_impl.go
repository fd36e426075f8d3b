package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Pricing  *config.PricingConfigHolder
	Repo     partnerdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	pricing  *config.PricingConfigHolder
	repo     partnerdomain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) partnerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("partner.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config,
		pricing:  p.Pricing,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req partnerdomain.CreateRequest) (*partnerdomain.Partner, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, partnerdomain.ErrInvalidName
	}
	slugValue := slug.Make(name)
	if slugValue == "" {
		return nil, partnerdomain.ErrInvalidName
	}

	rateLimit := s.cfg.DefaultAPIRateLimit
	if req.APIRateLimit != nil {
		rateLimit = *req.APIRateLimit
	}
	if rateLimit < 0 {
		return nil, partnerdomain.ErrInvalidRateLimit
	}

	plan, err := s.resolvePlan(req.BillingPlan)
	if err != nil {
		return nil, err
	}

	zeusManaged := true
	if req.ZeusManaged != nil {
		zeusManaged = *req.ZeusManaged
	}

	now := s.clock.Now()
	partner := &partnerdomain.Partner{
		ID:           s.genID.Generate(),
		Name:         name,
		Slug:         slugValue,
		Status:       partnerdomain.StatusActive,
		APIRateLimit: rateLimit,
		ZeusManaged:  zeusManaged,
		BillingPlan:  plan,
		ContactEmail: normalizeEmail(req.ContactEmail),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, partner); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return partnerdomain.ErrDuplicateName
			}
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partner.ID,
			Action:     auditdomain.ActionPartnerCreate,
			TargetType: "partner",
			TargetID:   partner.ID.String(),
			Metadata:   map[string]any{"name": name, "api_rate_limit": rateLimit, "billing_plan": plan},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("partner created", zap.String("partner_id", partner.ID.String()), zap.String("slug", partner.Slug))
	return partner, nil
}

func (s *Service) List(ctx context.Context, status string) ([]partnerdomain.Partner, error) {
	filter := partnerdomain.Status(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, partnerdomain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*partnerdomain.Partner, error) {
	if id == 0 {
		return nil, partnerdomain.ErrNotFound
	}
	p, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, partnerdomain.ErrNotFound
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req partnerdomain.UpdateRequest) (*partnerdomain.Partner, error) {
	var updated *partnerdomain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return partnerdomain.ErrNotFound
		}

		changes := map[string]any{}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" || slug.Make(name) == "" {
				return partnerdomain.ErrInvalidName
			}
			current.Name = name
			current.Slug = slug.Make(name)
			changes["name"] = name
		}
		if req.APIRateLimit != nil {
			if *req.APIRateLimit < 0 {
				return partnerdomain.ErrInvalidRateLimit
			}
			current.APIRateLimit = *req.APIRateLimit
			changes["api_rate_limit"] = *req.APIRateLimit
		}
		if req.BillingPlan != nil {
			plan, err := s.resolvePlan(*req.BillingPlan)
			if err != nil {
				return err
			}
			current.BillingPlan = plan
			changes["billing_plan"] = plan
		}
		if req.ContactEmail != nil {
			current.ContactEmail = normalizeEmail(req.ContactEmail)
			changes["contact_email"] = current.ContactEmail
		}
		if req.ZeusManaged != nil {
			current.ZeusManaged = *req.ZeusManaged
			changes["zeus_managed"] = *req.ZeusManaged
		}
		current.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, current); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return partnerdomain.ErrDuplicateName
			}
			return err
		}
		updated = current
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &current.ID,
			Action:     auditdomain.ActionPartnerUpdate,
			TargetType: "partner",
			TargetID:   current.ID.String(),
			Metadata:   changes,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) SetStatus(ctx context.Context, id snowflake.ID, status partnerdomain.Status) (*partnerdomain.Partner, error) {
	status = partnerdomain.Status(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, partnerdomain.ErrInvalidStatus
	}

	var updated *partnerdomain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return partnerdomain.ErrNotFound
		}
		previous := current.Status
		current.Status = status
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &current.ID,
			Action:     auditdomain.ActionPartnerStatus,
			TargetType: "partner",
			TargetID:   current.ID.String(),
			Metadata:   map[string]any{"from": string(previous), "to": string(status)},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("partner status changed",
		zap.String("partner_id", id.String()),
		zap.String("status", string(status)),
	)
	return updated, nil
}

// Delete removes the partner; geofences, usage, keys and invoices cascade.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.Delete(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return partnerdomain.ErrNotFound
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionPartnerDelete,
			TargetType: "partner",
			TargetID:   id.String(),
		})
	})
}

func (s *Service) resolvePlan(raw string) (string, error) {
	pricing := s.pricing.Get()
	plan := strings.ToLower(strings.TrimSpace(raw))
	if plan == "" {
		return pricing.DefaultPlan, nil
	}
	if _, ok := pricing.Plans[plan]; !ok {
		return "", partnerdomain.ErrInvalidPlan
	}
	return plan, nil
}

func normalizeEmail(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*raw))
	if v == "" {
		return nil
	}
	return &v
}
