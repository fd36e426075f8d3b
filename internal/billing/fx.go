package billing

import (
	"github.com/smallbiznis/valkyrie/internal/billing/repository"
	"github.com/smallbiznis/valkyrie/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewPlanPricing),
	fx.Provide(service.New),
)
