//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies the module and builds every package.
func (Build) Engine() error {
	if err := goCmd(false, "mod", "tidy"); err != nil {
		return err
	}
	return goCmd(true, "build", "./...")
}

// Vets every package.
func (Build) Vet() error {
	return goCmd(true, "vet", "./...")
}
