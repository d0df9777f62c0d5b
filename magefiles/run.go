//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed until every sample asset is streamed in.
func (Run) Testbed() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run testbed...")
	return goCmd(true, "run", "main.go", "-exit-when-loaded")
}

// Runs the testbed with hot reload enabled until interrupted.
func (Run) Watch() error {
	mg.Deps(Build.Engine)
	return goCmd(true, "run", "main.go")
}

type Test mg.Namespace

// Runs every test with the race detector.
func (Test) All() error {
	return goCmd(true, "test", "-race", "-count=1", "./...")
}

// Runs the streamer tests only.
func (Test) Streamer() error {
	return goCmd(true, "test", "-race", "-run", "Streamer", "./engine/systems/...")
}
