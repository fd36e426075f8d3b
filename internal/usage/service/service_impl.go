package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRangeDays = 366

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     usagedomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     usagedomain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Increment(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal, at time.Time) (usagedomain.Totals, error) {
	if partnerID == 0 {
		return usagedomain.Totals{}, usagedomain.ErrInvalidPartner
	}
	if !metric.Valid() {
		return usagedomain.Totals{}, usagedomain.ErrInvalidMetric
	}
	if amount.IsNegative() {
		return usagedomain.Totals{}, usagedomain.ErrInvalidAmount
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	now := s.clock.Now()

	var totals usagedomain.Totals
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		daily, err := s.repo.Add(ctx, tx, s.genID.Generate(), keyFor(partnerID, metric, usagedomain.PeriodDaily, at), amount, now)
		if err != nil {
			return err
		}
		monthly, err := s.repo.Add(ctx, tx, s.genID.Generate(), keyFor(partnerID, metric, usagedomain.PeriodMonthly, at), amount, now)
		if err != nil {
			return err
		}
		totals = usagedomain.Totals{Daily: daily, Monthly: monthly}
		return nil
	})
	if err != nil {
		s.log.Error("usage increment failed",
			zap.String("partner_id", partnerID.String()),
			zap.String("metric", string(metric)),
			zap.Error(err),
		)
		return usagedomain.Totals{}, err
	}
	return totals, nil
}

func (s *Service) Read(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, period usagedomain.Period, periodDate time.Time) (decimal.Decimal, error) {
	if err := validateKey(partnerID, metric, period); err != nil {
		return decimal.Zero, err
	}
	return s.repo.Get(ctx, s.db, keyFor(partnerID, metric, period, periodDate))
}

func (s *Service) ReadRange(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, period usagedomain.Period, from, to time.Time) ([]usagedomain.Value, error) {
	if err := validateKey(partnerID, metric, period); err != nil {
		return nil, err
	}
	from, to, err := normalizeRange(period, from, to)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListRange(ctx, s.db, usagedomain.RangeFilter{
		PartnerID: partnerID,
		Metric:    metric,
		Period:    period,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, err
	}

	values := make([]usagedomain.Value, 0, len(records))
	for _, r := range records {
		values = append(values, usagedomain.Value{PeriodDate: r.PeriodDate.UTC(), Value: r.Value})
	}
	return values, nil
}

func (s *Service) Summary(ctx context.Context, req usagedomain.SummaryRequest) (*usagedomain.Summary, error) {
	if req.PartnerID == 0 {
		return nil, usagedomain.ErrInvalidPartner
	}
	period := req.Period
	if period == "" {
		period = usagedomain.PeriodDaily
	}
	if !period.Valid() {
		return nil, usagedomain.ErrInvalidPeriod
	}

	from, to := req.From, req.To
	if from.IsZero() && to.IsZero() {
		now := s.clock.Now()
		from = usagedomain.PeriodMonthly.Truncate(now)
		to = now
	}
	from, to, err := normalizeRange(period, from, to)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListRange(ctx, s.db, usagedomain.RangeFilter{
		PartnerID: req.PartnerID,
		Period:    period,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, err
	}

	totals := make(map[usagedomain.Metric]decimal.Decimal, len(usagedomain.Metrics))
	for _, m := range usagedomain.Metrics {
		totals[m] = decimal.Zero
	}
	for i := range records {
		records[i].PeriodDate = records[i].PeriodDate.UTC()
		totals[records[i].Metric] = totals[records[i].Metric].Add(records[i].Value)
	}

	return &usagedomain.Summary{
		PartnerID: req.PartnerID.String(),
		Period:    period,
		From:      from,
		To:        to,
		Totals:    totals,
		Breakdown: records,
	}, nil
}

func (s *Service) Correct(ctx context.Context, req usagedomain.CorrectionRequest) (*usagedomain.CorrectionResult, error) {
	if err := validateKey(req.PartnerID, req.Metric, req.Period); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, usagedomain.ErrInvalidReason
	}
	if req.Delta.IsZero() {
		return nil, usagedomain.ErrInvalidAmount
	}
	if req.PeriodDate.IsZero() {
		return nil, usagedomain.ErrInvalidRange
	}

	key := keyFor(req.PartnerID, req.Metric, req.Period, req.PeriodDate)
	actorType, actorID := partnercontext.Actor(ctx)
	now := s.clock.Now()
	correction := usagedomain.Correction{
		ID:         s.genID.Generate(),
		PartnerID:  req.PartnerID,
		Metric:     req.Metric,
		Period:     req.Period,
		PeriodDate: key.PeriodDate,
		Delta:      req.Delta,
		Reason:     reason,
		Actor:      strings.TrimSuffix(actorType+":"+actorID, ":"),
		CreatedAt:  now,
	}

	var value decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		value, err = s.apply(ctx, tx, key, req.Delta, now)
		if err != nil {
			return err
		}
		if err := s.repo.InsertCorrection(ctx, tx, &correction); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &req.PartnerID,
			Action:     auditdomain.ActionUsageCorrect,
			TargetType: "usage_record",
			TargetID:   correction.ID.String(),
			Metadata: map[string]any{
				"metric":      string(req.Metric),
				"period":      string(req.Period),
				"period_date": key.PeriodDate.Format("2006-01-02"),
				"delta":       req.Delta.String(),
				"reason":      reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &usagedomain.CorrectionResult{Correction: correction, Value: value}, nil
}

func (s *Service) Reverse(ctx context.Context, partnerID snowflake.ID, metric usagedomain.Metric, amount decimal.Decimal, at time.Time, reason string) error {
	if err := validateKey(partnerID, metric, usagedomain.PeriodDaily); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return usagedomain.ErrInvalidAmount
	}
	now := s.clock.Now()
	delta := amount.Neg()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, period := range []usagedomain.Period{usagedomain.PeriodDaily, usagedomain.PeriodMonthly} {
			key := keyFor(partnerID, metric, period, at)
			if _, err := s.apply(ctx, tx, key, delta, now); err != nil {
				return err
			}
			if err := s.repo.InsertCorrection(ctx, tx, &usagedomain.Correction{
				ID:         s.genID.Generate(),
				PartnerID:  partnerID,
				Metric:     metric,
				Period:     period,
				PeriodDate: key.PeriodDate,
				Delta:      delta,
				Reason:     reason,
				Actor:      partnercontext.ActorSystem,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) MonthTotals(ctx context.Context, partnerID snowflake.ID, month time.Time) (map[usagedomain.Metric]decimal.Decimal, error) {
	if partnerID == 0 {
		return nil, usagedomain.ErrInvalidPartner
	}
	start := usagedomain.PeriodMonthly.Truncate(month)
	records, err := s.repo.ListRange(ctx, s.db, usagedomain.RangeFilter{
		PartnerID: partnerID,
		Period:    usagedomain.PeriodMonthly,
		From:      start,
		To:        start,
	})
	if err != nil {
		return nil, err
	}
	totals := make(map[usagedomain.Metric]decimal.Decimal, len(usagedomain.Metrics))
	for _, m := range usagedomain.Metrics {
		totals[m] = decimal.Zero
	}
	for _, r := range records {
		totals[r.Metric] = totals[r.Metric].Add(r.Value)
	}
	return totals, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, key usagedomain.Key, delta decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if delta.IsNegative() {
		value, ok, err := s.repo.Subtract(ctx, tx, key, delta.Neg(), now)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			return decimal.Zero, usagedomain.ErrNegativeBalance
		}
		return value, nil
	}
	return s.repo.Add(ctx, tx, s.genID.Generate(), key, delta, now)
}

func keyFor(partnerID snowflake.ID, metric usagedomain.Metric, period usagedomain.Period, at time.Time) usagedomain.Key {
	return usagedomain.Key{
		PartnerID:  partnerID,
		Metric:     metric,
		Period:     period,
		PeriodDate: period.Truncate(at),
	}
}

func validateKey(partnerID snowflake.ID, metric usagedomain.Metric, period usagedomain.Period) error {
	if partnerID == 0 {
		return usagedomain.ErrInvalidPartner
	}
	if !metric.Valid() {
		return usagedomain.ErrInvalidMetric
	}
	if !period.Valid() {
		return usagedomain.ErrInvalidPeriod
	}
	return nil
}

func normalizeRange(period usagedomain.Period, from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, usagedomain.ErrInvalidRange
	}
	from = period.Truncate(from)
	to = period.Truncate(to)
	if to.Before(from) {
		return time.Time{}, time.Time{}, usagedomain.ErrInvalidRange
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, usagedomain.ErrInvalidRange
	}
	return from, to, nil
}
