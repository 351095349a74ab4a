//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the docmodel project using Mage.
//
// Usage:
//
//	mage build        Compile the docmodel binary to bin/
//	mage test:all     Run all tests
//	mage test:unit    Run tests without the CLI package
//	mage test:race    Run all tests with the race detector
//	mage test:cover   Write coverage.out and print the summary
//	mage lint         Run golangci-lint
//	mage clean        Remove build artifacts
//	mage install      Install docmodel to GOPATH/bin
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "docmodel"
	binaryDir  = "bin"
	cmdDir     = "./cmd/docmodel"
	modulePath = "github.com/mesh-intelligence/docmodel"
)

// ldflags stamps the release version from $DOCMODEL_VERSION when set.
func ldflags() []string {
	v := os.Getenv("DOCMODEL_VERSION")
	if v == "" {
		return nil
	}
	return []string{"-ldflags", "-X " + modulePath + "/internal/cli.Version=" + v}
}

// Build compiles the docmodel binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	args := append([]string{"build", "-v"}, ldflags()...)
	args = append(args, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
	return sh.RunV(binGo, args...)
}

// Clean removes build artifacts.
func Clean() error {
	for _, p := range []string{binaryDir, "coverage.out"} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
