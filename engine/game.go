package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

// Game is implemented by applications running on the engine. The engine fills in
// SystemManager and Events before FnInitialize is called.
type Game struct {
	SystemManager *systems.SystemManager
	Events        *core.EventSystem
	State         interface{}
	FnInitialize  Initialize
	FnUpdate      Update
	FnShutdown    Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Shutdown func() error
