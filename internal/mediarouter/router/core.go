// Package router implements the Media Router core: the per-stream worker
// (RouterStream), the per-application registry (Application) and the
// process-wide (vhost, application) registry with pull-on-demand (Core).
package router

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
	"github.com/alxayo/mediarouter/internal/mediarouter/routererr"
)

// appKey identifies an Application by (virtual host, application name).
type appKey struct {
	VHost string
	App   string
}

// Puller is implemented by connectors that can materialize a stream on
// demand for pull-on-demand (spec §4.5). Connectors that only ever push
// (e.g. RTMP ingest) need not implement it.
type Puller interface {
	Connector
	PullStream(ctx context.Context, url, streamName string) error
}

// Core is the process-wide (vhost, application) registry (C5).
type Core struct {
	cfg    CoreConfig
	logger zerolog.Logger

	mu   sync.RWMutex
	apps map[appKey]*Application

	pullGroup singleflight.Group
}

// NewCore constructs a Core with cfg's zero values replaced by their
// defaults (spec §6.4).
func NewCore(cfg CoreConfig, logger zerolog.Logger) *Core {
	cfg.applyDefaults()
	return &Core{
		cfg:    cfg,
		logger: logger,
		apps:   make(map[appKey]*Application),
	}
}

// GetOrCreateApplication returns the Application for (vhost, app), creating
// it if absent.
func (c *Core) GetOrCreateApplication(vhost, app string) *Application {
	key := appKey{vhost, app}

	c.mu.RLock()
	if a, ok := c.apps[key]; ok {
		c.mu.RUnlock()
		return a
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.apps[key]; ok {
		return a
	}
	a := NewApplication(vhost, app, c.cfg, c.logger)
	c.apps[key] = a
	return a
}

// Lookup returns the Application for (vhost, app) if it exists.
func (c *Core) Lookup(vhost, app string) (*Application, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.apps[appKey{vhost, app}]
	return a, ok
}

// RemoveApplication deletes and closes the Application for (vhost, app), if
// present.
func (c *Core) RemoveApplication(vhost, app string) {
	key := appKey{vhost, app}
	c.mu.Lock()
	a, ok := c.apps[key]
	if ok {
		delete(c.apps, key)
	}
	c.mu.Unlock()
	if ok {
		a.Close()
	}
}

// RequestPullStream materializes a missing stream by asking the target
// application's pull-capable provider to fetch it, coalescing concurrent
// callers for the same (vhost/app, streamName) onto one in-flight pull
// (P5), and bounding the wait to cfg.PullTimeoutMS (spec §4.5).
func (c *Core) RequestPullStream(ctx context.Context, rawURL, vhost, app, streamName string) (*packet.Stream, error) {
	key := vhost + "/" + app + "/" + streamName

	v, err, _ := c.pullGroup.Do(key, func() (interface{}, error) {
		return c.pull(ctx, rawURL, vhost, app, streamName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*packet.Stream), nil
}

func (c *Core) pull(ctx context.Context, rawURL, vhost, app, streamName string) (*packet.Stream, error) {
	a, ok := c.Lookup(vhost, app)
	if !ok {
		return nil, routererr.NoSuchApplication(vhost + "/" + app)
	}

	provider := a.findPullProvider(rawURL)
	puller, ok := provider.(Puller)
	if provider == nil || !ok {
		return nil, routererr.ErrPullUnsupportedScheme
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.pullTimeout())
	defer cancel()

	notify := a.waitForStream(streamName)
	go func() {
		if err := puller.PullStream(waitCtx, rawURL, streamName); err != nil {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("pull provider failed")
		}
	}()

	select {
	case s := <-notify:
		return s, nil
	case <-waitCtx.Done():
		return nil, routererr.ErrPullTimeout
	}
}

// Close closes every application, joining their workers (spec §5 "closing
// the Router Core ... joins all workers"). Pulls already in flight are not
// cancelled; each one ends when its stream arrives or its timeout expires.
func (c *Core) Close() error {
	c.mu.Lock()
	apps := make([]*Application, 0, len(c.apps))
	for _, a := range c.apps {
		apps = append(apps, a)
	}
	c.apps = make(map[appKey]*Application)
	c.mu.Unlock()

	var g errgroup.Group
	for _, a := range apps {
		a := a
		g.Go(a.Close)
	}
	return g.Wait()
}
