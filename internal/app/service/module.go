package service

import "go.uber.org/fx"

// Module is empty: C6 is a set of pure functions C7 calls directly,
// with no constructed dependency of its own.
var Module = fx.Options()
