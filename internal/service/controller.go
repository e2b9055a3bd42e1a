package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"pgconvert/internal/config"
	"pgconvert/internal/logging"
	"pgconvert/internal/tool"
)

// State tracks the controller through the stop/replace/start sequence
type State string

const (
	StateUnknown      State = "unknown"
	StateStopped      State = "stopped"
	StateDataReplaced State = "data_replaced"
	StateStarted      State = "started"
)

// Pinger reports whether the service currently accepts connections
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller drives the intermediary database service through the
// stop → replace data → start sequence. At most one pipeline run may hold a
// Controller for a given instance; mutual exclusion across runs is the
// scheduler's responsibility.
type Controller struct {
	cfg    config.ServiceConfig
	runner tool.Runner
	pinger Pinger
	logger *logging.Logger
	state  State
}

// NewController creates a controller for the configured service instance
func NewController(cfg config.ServiceConfig, runner tool.Runner, pinger Pinger, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Controller{
		cfg:    cfg,
		runner: runner,
		pinger: pinger,
		logger: logger,
		state:  StateUnknown,
	}
}

// State returns the controller's current lifecycle state
func (c *Controller) State() State {
	return c.state
}

// MarkDataReplaced records that the data directory has been swapped while
// the service was stopped
func (c *Controller) MarkDataReplaced() error {
	if c.state != StateStopped {
		return fmt.Errorf("cannot replace data in state %s", c.state)
	}
	c.state = StateDataReplaced
	return nil
}

// Stop stops the service and polls until it has actually shut down
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.runner.Run(ctx, c.cfg.ControlCommand, c.cfg.StopArgs...); err != nil {
		return fmt.Errorf("service stop failed: %w", err)
	}
	if err := c.waitStopped(ctx); err != nil {
		return err
	}
	c.state = StateStopped
	c.logger.Debug("Service confirmed stopped")
	return nil
}

// Start starts the service and polls until it accepts connections
func (c *Controller) Start(ctx context.Context) error {
	if err := c.runner.Run(ctx, c.cfg.ControlCommand, c.cfg.StartArgs...); err != nil {
		return fmt.Errorf("service start failed: %w", err)
	}
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	c.state = StateStarted
	c.logger.Debug("Service confirmed ready")
	return nil
}

// waitStopped polls actual service state instead of sleeping a fixed
// duration; shutdown time scales with data directory size.
func (c *Controller) waitStopped(ctx context.Context) error {
	return c.poll(ctx, "shutdown", func(ctx context.Context) bool {
		if c.cfg.PidFile != "" {
			_, err := os.Stat(c.cfg.PidFile)
			return os.IsNotExist(err)
		}
		return c.pinger.Ping(ctx) != nil
	})
}

func (c *Controller) waitReady(ctx context.Context) error {
	return c.poll(ctx, "readiness", func(ctx context.Context) bool {
		return c.pinger.Ping(ctx) == nil
	})
}

func (c *Controller) poll(ctx context.Context, what string, check func(context.Context) bool) error {
	for attempt := 1; attempt <= c.cfg.MaxPolls; attempt++ {
		if check(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for service %s: %w", what, ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return fmt.Errorf("service %s not reached after %d polls", what, c.cfg.MaxPolls)
}
