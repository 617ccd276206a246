//go:build tools
// +build tools

// Package tools tracks mockgen, which go:generate runs to build pkg/mocks.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
