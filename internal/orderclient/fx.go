package orderclient

import "go.uber.org/fx"

var Module = fx.Module("orderclient",
	fx.Provide(
		New,
		func(c *Client) Forwarder { return c },
	),
)
