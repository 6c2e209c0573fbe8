package control

import "go.uber.org/fx"

var Module = fx.Module("control",
	fx.Provide(New),
)
