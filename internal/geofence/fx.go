package geofence

import (
	"github.com/smallbiznis/valkyrie/internal/geofence/repository"
	"github.com/smallbiznis/valkyrie/internal/geofence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("geofence.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
