package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/bookflow-go/flow"
	"github.com/dshills/bookflow-go/flow/emit"
	"github.com/dshills/bookflow-go/pipeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     pipeline.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (pipeline.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := pipeline.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newEmitter builds the event emitter from the logging section: a
// human-readable (or JSON) stderr stream, optionally teed into a JSONL
// event file. The returned close func is a no-op when no file is open.
func (c *commandContext) newEmitter(cfg pipeline.Config) (emit.Emitter, func() error, error) {
	console := emit.NewLogEmitter(os.Stderr, cfg.Logging.Format == "json")
	if cfg.Logging.EventsPath == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.Logging.EventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open events file: %w", err)
	}
	multi := emit.NewMultiEmitter(console, emit.NewLogEmitter(f, true))
	return multi, f.Close, nil
}

// withPipeline wires config, emitter, stores, and providers, runs fn,
// and tears everything down in reverse order.
func (c *commandContext) withPipeline(ctx context.Context, fn func(*pipeline.Pipeline) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	emitter, closeEmitter, err := c.newEmitter(cfg)
	if err != nil {
		return err
	}
	defer closeEmitter()

	metrics := flow.NewPrometheusMetrics(prometheus.NewRegistry())

	deps, cleanup, err := pipeline.BuildDeps(ctx, cfg, emitter, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}
	return fn(p)
}
