//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed with config.toml.
func (Run) Demo() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run testbed...")
	_, err := executeCmd("go", withArgs("run", ".", "config.toml"), withStream())
	return err
}

// Runs the testbed on the headless backend for a fixed number of frames.
func (Run) Headless() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run headless testbed...")
	_, err := executeCmd("go", withArgs("run", ".", "-backend", "headless", "-frames", "120", "config.toml"), withStream())
	return err
}
