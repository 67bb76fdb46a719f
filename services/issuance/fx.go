package issuance

import "go.uber.org/fx"

var Module = fx.Module("issuance.engine",
	fx.Provide(NewEngine),
)
