package ports

import (
	"context"

	"pixelrelay/pkg/config"
)

// Component is a pluggable part of a process. Entry points initialise every
// component from the loaded configuration before running any of them.
type Component interface {
	Name() string
	Initialize(cfg *config.Config) error
	// Run blocks until ctx is cancelled or the component fails. Returning
	// nil early means the component has nothing to do.
	Run(ctx context.Context) error
}
