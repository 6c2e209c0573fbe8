package reaper

import "go.uber.org/fx"

var Module = fx.Module("reaper",
	fx.Provide(New),
)
