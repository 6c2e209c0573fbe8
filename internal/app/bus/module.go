package bus

import (
	"go.uber.org/fx"

	"horust/internal/config/logger"
)

// Module provides the bus for dependency injection (C1).
var Module = fx.Module("bus",
	fx.Provide(func(log logger.Logger) Bus {
		return New(log.WithComponent("BUS"))
	}),
)
