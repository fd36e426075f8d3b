package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/billing/render"
	"github.com/smallbiznis/valkyrie/internal/clock"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPaymentTermsDays = 14

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        billingdomain.Repository
	PartnerRepo partnerdomain.Repository
	UsageSvc    usagedomain.Service
	Pricing     billingdomain.PricingFunc
	AuditSvc    auditdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        billingdomain.Repository
	partnerRepo partnerdomain.Repository
	usageSvc    usagedomain.Service
	pricing     billingdomain.PricingFunc
	auditSvc    auditdomain.Service
}

func New(p Params) billingdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billing.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		partnerRepo: p.PartnerRepo,
		usageSvc:    p.UsageSvc,
		pricing:     p.Pricing,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) ClosePeriod(ctx context.Context, partnerID snowflake.ID, label string) (*billingdomain.Invoice, bool, error) {
	if partnerID == 0 {
		return nil, false, billingdomain.ErrInvalidPartner
	}
	period, err := billingdomain.ParsePeriod(strings.TrimSpace(label))
	if err != nil {
		return nil, false, err
	}
	now := s.clock.Now().UTC()
	if period.End.After(now) {
		return nil, false, billingdomain.ErrPeriodOpen
	}

	existing, err := s.repo.FindByPartnerPeriod(ctx, s.db, partnerID, period.Label())
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	partner, err := s.partnerRepo.FindByID(ctx, s.db, partnerID)
	if err != nil {
		return nil, false, err
	}
	if partner == nil {
		return nil, false, billingdomain.ErrInvalidPartner
	}

	totals, err := s.usageSvc.MonthTotals(ctx, partnerID, period.Start)
	if err != nil {
		return nil, false, fmt.Errorf("read usage: %w", err)
	}
	usage := make(map[string]decimal.Decimal, len(totals))
	for metric, v := range totals {
		usage[string(metric)] = v
	}

	quote, err := s.pricing(ctx, billingdomain.PricingInput{
		PartnerID:   partnerID,
		BillingPlan: partner.BillingPlan,
		Period:      period,
		Usage:       usage,
	})
	if err != nil {
		if errors.Is(err, billingdomain.ErrPricing) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", billingdomain.ErrPricing, err)
	}

	lines, err := json.Marshal(quote.Lines)
	if err != nil {
		return nil, false, err
	}
	terms := quote.PaymentTermsDays
	if terms <= 0 {
		terms = defaultPaymentTermsDays
	}

	id := s.genID.Generate()
	inv := &billingdomain.Invoice{
		ID:               id,
		PartnerID:        partnerID,
		InvoiceNumber:    invoiceNumber(period, id),
		Period:           period.Label(),
		Currency:         quote.Currency,
		Amount:           quote.Total().Round(2),
		LineItems:        datatypes.JSON(lines),
		Status:           billingdomain.StatusDraft,
		PaymentTermsDays: terms,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var (
		result  *billingdomain.Invoice
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, inv)
		if err != nil {
			return err
		}
		if !inserted {
			result, err = s.repo.FindByPartnerPeriod(ctx, tx, partnerID, period.Label())
			if err != nil {
				return err
			}
			if result == nil {
				return billingdomain.ErrNotFound
			}
			return nil
		}

		created = true
		result = inv
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			Action:     auditdomain.ActionInvoiceCreate,
			TargetType: "invoice",
			TargetID:   id.String(),
			Metadata: map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"period":         inv.Period,
				"amount":         inv.Amount.StringFixed(2),
				"currency":       inv.Currency,
			},
		})
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.log.Info("invoice drafted",
			zap.String("partner_id", partnerID.String()),
			zap.String("period", inv.Period),
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("amount", inv.Amount.StringFixed(2)),
		)
	}
	return result, created, nil
}

func (s *Service) Issue(ctx context.Context, id snowflake.ID) (*billingdomain.Invoice, error) {
	var out *billingdomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return billingdomain.ErrNotFound
		}
		if !billingdomain.CanTransition(inv.Status, billingdomain.StatusIssued) {
			return billingdomain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		due := now.AddDate(0, 0, inv.PaymentTermsDays)
		n, err := s.repo.Transition(ctx, tx, id, inv.Status, billingdomain.StatusIssued, billingdomain.TransitionFields{
			IssuedAt:  &now,
			DueDate:   &due,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return billingdomain.ErrInvalidTransition
		}

		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &inv.PartnerID,
			Action:     auditdomain.ActionInvoiceIssue,
			TargetType: "invoice",
			TargetID:   id.String(),
			Metadata: map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"due_date":       due.Format("2006-01-02"),
			},
		}); err != nil {
			return err
		}

		out, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaid settles an issued invoice. The status lattice is checked before
// the paid date, so a draft is always reported as an invalid transition.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paidDate time.Time) (*billingdomain.Invoice, error) {
	paidDate = paidDate.UTC()

	var out *billingdomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return billingdomain.ErrNotFound
		}
		if !billingdomain.CanTransition(inv.Status, billingdomain.StatusPaid) {
			return billingdomain.ErrInvalidTransition
		}
		if paidDate.IsZero() || paidDate.After(s.clock.Now().UTC()) {
			return billingdomain.ErrInvalidPaidDate
		}
		if inv.IssuedAt != nil && paidDate.Before(truncateDay(*inv.IssuedAt)) {
			return billingdomain.ErrInvalidPaidDate
		}

		n, err := s.repo.Transition(ctx, tx, id, inv.Status, billingdomain.StatusPaid, billingdomain.TransitionFields{
			PaidDate:  &paidDate,
			UpdatedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return billingdomain.ErrInvalidTransition
		}

		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &inv.PartnerID,
			Action:     auditdomain.ActionInvoicePaid,
			TargetType: "invoice",
			TargetID:   id.String(),
			Metadata: map[string]any{
				"invoice_number": inv.InvoiceNumber,
				"paid_date":      paidDate.Format("2006-01-02"),
			},
		}); err != nil {
			return err
		}

		out, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*billingdomain.Invoice, error) {
	inv, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, billingdomain.ErrNotFound
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, filter billingdomain.ListFilter) ([]billingdomain.Invoice, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, billingdomain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	partner, err := s.partnerRepo.FindByID(ctx, s.db, inv.PartnerID)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, billingdomain.ErrInvalidPartner
	}
	lines, err := inv.Lines()
	if err != nil {
		return nil, err
	}

	doc := render.Document{
		InvoiceNumber: inv.InvoiceNumber,
		Period:        inv.Period,
		Status:        string(inv.Status),
		Currency:      inv.Currency,
		PartnerName:   partner.Name,
		Total:         inv.Amount,
		Lines:         lines,
	}
	if partner.ContactEmail != nil {
		doc.PartnerEmail = *partner.ContactEmail
	}
	if inv.IssuedAt != nil {
		doc.IssueDate = inv.IssuedAt.Format("2006-01-02")
	}
	if inv.DueDate != nil {
		doc.DueDate = inv.DueDate.Format("2006-01-02")
	}
	if inv.PaidDate != nil {
		doc.PaidDate = inv.PaidDate.Format("2006-01-02")
	}
	return render.Invoice(doc)
}

// invoiceNumber is VLK-<YYYYMM>-<base36 id>; the id keeps it globally unique.
func invoiceNumber(period billingdomain.Period, id snowflake.ID) string {
	return fmt.Sprintf("VLK-%s-%s", period.Start.Format("200601"), strings.ToUpper(id.Base36()))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
