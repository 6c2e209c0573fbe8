package spawner

import "go.uber.org/fx"

var Module = fx.Module("spawner",
	fx.Provide(New),
)
