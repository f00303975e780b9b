// Package logger owns the process root logger.
package logger

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.Mutex
	root hclog.Logger
)

// Root returns the process root logger, creating it on first use.
func Root() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:  "flixor",
			Level: hclog.Info,
		})
	}
	return root
}

// Named returns a child of the root logger.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

// SetLevel replaces the root logger with one at the given level.
// Unknown level strings fall back to info.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	root = hclog.New(&hclog.LoggerOptions{
		Name:  "flixor",
		Level: hclog.LevelFromString(level),
	})
}
