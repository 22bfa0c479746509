package nettap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/nettap/internal/id"
	"github.com/getmockd/nettap/pkg/artifacts"
	"github.com/getmockd/nettap/pkg/config"
	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/getmockd/nettap/pkg/exchangelog"
	"github.com/getmockd/nettap/pkg/har"
	"github.com/getmockd/nettap/pkg/intercept"
	"github.com/getmockd/nettap/pkg/logging"
	"github.com/getmockd/nettap/pkg/metrics"
)

// Options configures a Controller.
type Options struct {
	// Host is a registration point the hook is installed into on Start.
	// More can be added with Attach.
	Host intercept.Registrar

	// Store defaults to an in-memory store bounded by Config.MaxEntries.
	Store exchangelog.Store

	// Sink receives finished exchanges and owns the on-disk artifacts. Nil
	// disables artifacts.
	Sink *artifacts.Sink

	// Config defaults to config.Default().
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger *slog.Logger

	// Metrics receives the capture metrics. A private registry is used
	// when nil.
	Metrics *metrics.Registry

	// Version is reported in the start banner and HAR exports.
	Version string
}

// Controller runs capture sessions.
type Controller struct {
	hook    *intercept.Hook
	store   exchangelog.Store
	sink    *artifacts.Sink
	cfg     config.Config
	logger  *slog.Logger
	version string
	metrics *metrics.Registry
	capture *metrics.Capture

	mu        sync.Mutex
	hosts     []intercept.Registrar
	started   bool
	sessionID string
	lastVisit time.Time
}

// New creates a stopped Controller.
func New(opts Options) (*Controller, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = exchangelog.NewMemoryStore(exchangelog.Options{MaxEntries: cfg.MaxEntries})
	}

	c := &Controller{
		store:     store,
		sink:      opts.Sink,
		cfg:       cfg,
		logger:    logging.For(opts.Logger, "nettap"),
		version:   opts.Version,
		lastVisit: time.Now(),
	}
	if c.version == "" {
		c.version = "dev"
	}
	c.metrics = opts.Metrics
	if c.metrics == nil {
		c.metrics = metrics.NewRegistry()
	}
	c.capture = metrics.NewCapture(c.metrics)

	hook, err := intercept.NewHook(intercept.Options{
		Store:        store,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Disabled:     true,
		Logger:       opts.Logger,
		OnFinish:     c.onFinish,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Ignore {
		hook.Ignore(p)
	}
	c.hook = hook

	if opts.Host != nil {
		c.hosts = append(c.hosts, opts.Host)
	}
	return c, nil
}

// Start begins a session: the hook is registered, old data cleared, a new
// session log opened and only then capture switched on (unless
// Config.Enabled is false). Starting a running controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	for i, h := range c.hosts {
		if err := h.Register(c.hook); err != nil {
			for _, done := range c.hosts[:i] {
				_ = done.Unregister(c.hook)
			}
			return fmt.Errorf("nettap: register hook: %w", err)
		}
	}

	c.clearOldData(ctx)

	c.sessionID = id.Session()
	c.hook.SetSession(c.sessionID)
	if c.sink != nil {
		if err := c.sink.Open(c.sessionID); err != nil {
			c.logger.WarnContext(ctx, "session log unavailable", "error", err)
		}
	}

	c.hook.SetEnabled(c.cfg.Enabled)
	c.started = true
	c.logger.InfoContext(ctx, fmt.Sprintf("nettap %s - session %s: started", c.version, c.sessionID),
		"enabled", c.hook.Enabled(),
		"ignore", c.hook.IgnoredURLs(),
	)
	return nil
}

// Stop ends the session: capture is switched off, the hook unregistered,
// the session log closed and all data cleared. Exchanges already in the
// store when capture goes off are cleared with the rest. Stopping a stopped
// controller is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	c.hook.SetEnabled(false)
	var errs []error
	for _, h := range c.hosts {
		if err := h.Unregister(c.hook); err != nil {
			errs = append(errs, err)
		}
	}

	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			c.logger.WarnContext(ctx, "closing session log", "error", err)
		}
	}
	c.clearOldData(ctx)

	c.started = false
	c.logger.InfoContext(ctx, fmt.Sprintf("nettap %s - session %s: stopped", c.version, c.sessionID))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("nettap: unregister hook: %w", err)
	}
	return nil
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SessionID returns the current or most recent session ID.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Attach wraps client's transport so its traffic is captured while the
// controller runs. Attaching a client twice returns the same transport.
func (c *Controller) Attach(client *http.Client) *intercept.Transport {
	tr, ok := client.Transport.(*intercept.Transport)
	if !ok {
		tr = intercept.NewTransport(client.Transport)
		client.Transport = tr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.hosts {
		if h == intercept.Registrar(tr) {
			return tr
		}
	}
	c.hosts = append(c.hosts, tr)
	if c.started {
		if err := tr.Register(c.hook); err != nil {
			c.logger.Warn("attach: register hook", "error", err)
		}
	}
	return tr
}

// ClearOldData empties the store and removes artifacts from earlier
// sessions. Failures are logged and otherwise ignored.
func (c *Controller) ClearOldData(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearOldData(ctx)
}

func (c *Controller) clearOldData(ctx context.Context) {
	c.store.Clear()
	if c.sink == nil {
		return
	}
	if err := c.sink.ClearOldData(); err != nil {
		c.logger.WarnContext(ctx, "clearing old data", "dir", c.sink.Dir(), "error", err)
	}
}

// Ignore excludes requests whose host+path contains pattern.
func (c *Controller) Ignore(pattern string) {
	c.hook.Ignore(pattern)
}

// IgnoredURLs returns the ignore patterns in insertion order.
func (c *Controller) IgnoredURLs() []string {
	return c.hook.IgnoredURLs()
}

// SetEnabled switches capture on or off without ending the session.
func (c *Controller) SetEnabled(enabled bool) {
	c.hook.SetEnabled(enabled)
}

// Enabled reports whether capture is on.
func (c *Controller) Enabled() bool {
	return c.hook.Enabled()
}

// LastVisit returns when the log was last marked as seen. It starts at the
// controller's creation time.
func (c *Controller) LastVisit() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastVisit
}

// MarkVisited records that every exchange so far has been seen.
func (c *Controller) MarkVisited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastVisit = time.Now()
}

// UnreadCount returns how many exchanges were sent after LastVisit.
func (c *Controller) UnreadCount() int {
	since := c.LastVisit()
	n := 0
	for _, ex := range c.store.All() {
		if ex.Request.SentAt.After(since) {
			n++
		}
	}
	return n
}

// Store returns the exchange log.
func (c *Controller) Store() exchangelog.Store {
	return c.store
}

// Export writes the finished exchanges as HAR to w.
func (c *Controller) Export(w io.Writer) error {
	return har.Write(w, c.store.All(), har.Options{CreatorVersion: c.version})
}

// Metrics returns the registry holding the capture metrics. Metrics
// accumulate across sessions.
func (c *Controller) Metrics() *metrics.Registry {
	return c.metrics
}

func (c *Controller) onFinish(ex exchange.Exchange) {
	c.capture.Observe(&ex)
	if c.sink == nil {
		return
	}
	if !c.sink.Record(ex) {
		c.logger.Debug("session log record dropped", "id", ex.ID)
	}
}
