package services

import (
	"context"
	"errors"
	"fmt"

	"pixelrelay/internal/core/ports"
	"pixelrelay/pkg/config"

	"go.uber.org/zap"
)

// RunComponents initialises components in order and then runs them all until
// ctx ends. The first failure cancels the others and is returned.
func RunComponents(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, components ...ports.Component) error {
	for _, c := range components {
		if err := c.Initialize(cfg); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Name(), err)
		}
		logger.Debugw("component initialized", "component", c.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(components))
	for _, c := range components {
		go func(c ports.Component) {
			err := c.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", c.Name(), err)
				return
			}
			logger.Debugw("component stopped", "component", c.Name())
			errCh <- nil
		}(c)
	}

	var first error
	for range components {
		if err := <-errCh; err != nil && first == nil {
			first = err
			logger.Errorw("component failed", "error", err)
			cancel()
		}
	}
	return first
}
