package checkin

import "go.uber.org/fx"

var Module = fx.Module("checkin.processor",
	fx.Provide(NewProcessor),
)
