//go:build tools
// +build tools

// Package tools pins the binaries used to lint and test sled, so their
// versions are tracked in go.mod alongside everything else.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/onsi/ginkgo/ginkgo"
)
