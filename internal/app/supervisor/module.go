package supervisor

import "go.uber.org/fx"

// Module carries no providers: Supervisor needs the parsed CLI flags
// (UnsuccessfulExitFinishedFailed) alongside its component
// dependencies, so cmd/horust wires it explicitly via New rather than
// through fx's type-based DI.
var Module = fx.Options()
