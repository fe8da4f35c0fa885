package main

import (
	"context"
	"fmt"
	"sync"

	"truckcount-api/internal/app"
	"truckcount-api/internal/config"
	"truckcount-api/internal/service"
)

// commandContext loads configuration once and opens resources on demand.
type commandContext struct {
	loadConfig func() (*config.Config, error)

	once sync.Once
	cfg  *config.Config
	err  error
}

func newCommandContext(load func() (*config.Config, error)) *commandContext {
	return &commandContext{loadConfig: load}
}

func (c *commandContext) config() (*config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.err = c.loadConfig()
	})
	return c.cfg, c.err
}

// services bundles what the store-only commands need.
type services struct {
	approvals *service.ApprovalService
	summaries *service.SummaryService
}

// withServices opens the store, runs fn and closes the store.
func (c *commandContext) withServices(fn func(*services) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}

	store, err := app.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	defer store.Close()

	return fn(&services{
		approvals: service.NewApprovalService(store),
		summaries: service.NewSummaryService(store, store, loc),
	})
}

// withApp builds the full application, including the queue broker.
func (c *commandContext) withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(application)
}
