//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/magefile/mage/target"
)

type Build mg.Namespace

// shaderSources maps each GLSL source to the SPIR-V module the testbed loads.
var shaderSources = map[string]string{
	"shaders/shader.vert": "shaders/vert.spv",
	"shaders/shader.frag": "shaders/frag.spv",
}

// Compiles the GLSL shaders to SPIR-V with glslc. Up-to-date modules are skipped.
func (Build) Shaders() error {
	for src, dst := range shaderSources {
		stale, err := target.Path(dst, src)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Demo() error {
	mg.Deps(Build.Shaders)
	out := filepath.Join("bin", "anima-rhi")
	_, err := executeCmd("go", withArgs("build", "-o", out, "."), withStream())
	return err
}

// Removes the compiled shaders and the demo binary.
func (Build) Clean() error {
	for _, dst := range shaderSources {
		if err := sh.Rm(dst); err != nil {
			return err
		}
	}
	return sh.Rm("bin")
}
