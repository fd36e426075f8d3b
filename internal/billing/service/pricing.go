package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/config"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
)

const baseFeeMetric = "base_fee"

var lineDescriptions = map[string]string{
	string(usagedomain.MetricOrders):   "Delivery orders",
	string(usagedomain.MetricKm):       "Delivery distance (km)",
	string(usagedomain.MetricAPICalls): "API calls",
	string(usagedomain.MetricDrivers):  "Drivers registered",
}

// NewPlanPricing prices usage with the partner's billing plan as found in
// the pricing config at the time of the call.
func NewPlanPricing(holder *config.PricingConfigHolder) billingdomain.PricingFunc {
	return func(ctx context.Context, in billingdomain.PricingInput) (billingdomain.Quote, error) {
		plan, ok := holder.Get().Plan(in.BillingPlan)
		if !ok {
			return billingdomain.Quote{}, fmt.Errorf("%w: no plan for %q", billingdomain.ErrPricing, in.BillingPlan)
		}
		return PriceWithPlan(plan, in), nil
	}
}

// PriceWithPlan returns one line for the base fee (when non-zero) and one per
// rated metric, in ledger metric order.
func PriceWithPlan(plan config.Plan, in billingdomain.PricingInput) billingdomain.Quote {
	quote := billingdomain.Quote{
		Currency:         strings.ToUpper(plan.Currency),
		PaymentTermsDays: plan.PaymentTermsDays,
	}

	if plan.BaseFee.IsPositive() {
		quote.Lines = append(quote.Lines, billingdomain.LineItem{
			Metric:      baseFeeMetric,
			Description: "Platform fee " + in.Period.Label(),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   plan.BaseFee,
			Amount:      plan.BaseFee.Round(2),
		})
	}

	for _, metric := range usagedomain.Metrics {
		rate, ok := plan.Rates[string(metric)]
		if !ok {
			continue
		}
		qty := in.Usage[string(metric)]
		quote.Lines = append(quote.Lines, billingdomain.LineItem{
			Metric:      string(metric),
			Description: lineDescriptions[string(metric)],
			Quantity:    qty,
			UnitPrice:   rate,
			Amount:      qty.Mul(rate).Round(2),
		})
	}
	return quote
}
