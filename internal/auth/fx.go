package auth

import (
	"github.com/smallbiznis/valkyrie/internal/auth/repository"
	"github.com/smallbiznis/valkyrie/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewIssuer),
	fx.Provide(service.New),
)
