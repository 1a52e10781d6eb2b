package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"voice-conformity-go/internal/app"
	"voice-conformity-go/internal/config"
	"voice-conformity-go/internal/logger"
)

type commandContext struct {
	configFlag *string

	once sync.Once
	app  *app.App
	err  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureApp loads the configuration and opens the pipeline once per
// invocation. Logs go to stderr so tables and JSON stay clean on stdout.
func (c *commandContext) ensureApp(cmd *cobra.Command) (*app.App, error) {
	c.once.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.err = err
			return
		}
		log := logger.NewWithOptions(logger.Options{
			Environment: cfg.Environment,
			Level:       cfg.LogLevel,
			Output:      cmd.ErrOrStderr(),
		})
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		c.app, c.err = app.New(ctx, cfg, log)
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app != nil {
		_ = c.app.Close()
	}
}

func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	a, err := c.ensureApp(cmd)
	if err != nil {
		return err
	}
	defer c.close()
	return fn(a)
}
