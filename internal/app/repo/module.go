package repo

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the repo
// package. It provides nothing: cmd/horust supplies repo.New to fx
// itself and builds the Watcher with NewWatcher once fx has started.
var Module = fx.Options()
