//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// goCmd runs the go tool, its output is only shown with -v unless stream is set.
func goCmd(stream bool, args ...string) error {
	run := sh.Run
	if stream || mg.Verbose() {
		run = sh.RunV
	}
	if err := run(mg.GoCmd(), args...); err != nil {
		return fmt.Errorf("go %s: %w", args[0], err)
	}
	return nil
}
