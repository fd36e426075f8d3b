package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/valkyrie/internal/apikey"
	"github.com/smallbiznis/valkyrie/internal/audit"
	"github.com/smallbiznis/valkyrie/internal/auth"
	"github.com/smallbiznis/valkyrie/internal/authorization"
	"github.com/smallbiznis/valkyrie/internal/billing"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	"github.com/smallbiznis/valkyrie/internal/gateway"
	"github.com/smallbiznis/valkyrie/internal/geofence"
	"github.com/smallbiznis/valkyrie/internal/observability"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	"github.com/smallbiznis/valkyrie/internal/partner"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	"github.com/smallbiznis/valkyrie/internal/usage"
	"github.com/smallbiznis/valkyrie/pkg/db"
	"go.uber.org/fx"
)

// infrastructure is shared by every command that touches the database.
var infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	clock.Module,
)

var domains = fx.Options(
	authorization.Module,
	audit.Module,
	auth.Module,
	apikey.Module,
	partner.Module,
	geofence.Module,
	usage.Module,
	billing.Module,
	ratelimit.Module,
	orderclient.Module,
	gateway.Module,
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
