package intercept

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/getmockd/nettap/internal/id"
	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/getmockd/nettap/pkg/exchangelog"
	"github.com/getmockd/nettap/pkg/logging"
)

// ErrNoStore is returned by NewHook when Options.Store is nil.
var ErrNoStore = errors.New("intercept: store is required")

// Options configures a Hook.
type Options struct {
	// Store receives the captured exchanges. Required.
	Store exchangelog.Store

	// MaxBodyBytes bounds how much of each body is retained. Bodies larger
	// than this are flagged Truncated. Zero means unlimited.
	MaxBodyBytes int64

	// Disabled creates the hook switched off.
	Disabled bool

	// Logger defaults to a no-op logger.
	Logger *slog.Logger

	// OnFinish, if set, receives a copy of every exchange when it reaches a
	// terminal state. It runs on the goroutine that finished the exchange
	// and must not block.
	OnFinish func(exchange.Exchange)

	// NewID overrides exchange ID generation.
	NewID func() string
}

// Hook decides which requests are captured and records them.
type Hook struct {
	store    exchangelog.Store
	maxBody  int64
	logger   *slog.Logger
	onFinish func(exchange.Exchange)
	newID    func() string

	// gate orders switch changes against exchanges being added.
	gate    sync.RWMutex
	enabled atomic.Bool
	session atomic.Pointer[string]
	ignore  IgnoreList
}

// NewHook creates a Hook.
func NewHook(opts Options) (*Hook, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}

	h := &Hook{
		store:    opts.Store,
		maxBody:  opts.MaxBodyBytes,
		logger:   logging.For(opts.Logger, "intercept"),
		onFinish: opts.OnFinish,
		newID:    opts.NewID,
	}
	if h.newID == nil {
		h.newID = id.Exchange
	}
	h.enabled.Store(!opts.Disabled)
	return h, nil
}

// Store returns the store exchanges are written to.
func (h *Hook) Store() exchangelog.Store {
	return h.store
}

// SetEnabled switches capture on or off. Requests already in flight keep
// being captured. Once SetEnabled(false) returns no new exchange reaches the
// store.
func (h *Hook) SetEnabled(enabled bool) {
	h.gate.Lock()
	defer h.gate.Unlock()
	h.enabled.Store(enabled)
}

// Enabled reports whether capture is on.
func (h *Hook) Enabled() bool {
	return h.enabled.Load()
}

// Ignore excludes requests whose host+path contains pattern.
func (h *Hook) Ignore(pattern string) {
	h.ignore.Add(pattern)
}

// IgnoredURLs returns the ignore patterns in the order they were added.
func (h *Hook) IgnoredURLs() []string {
	return h.ignore.Patterns()
}

// SetSession sets the session ID stamped on new exchanges.
func (h *Hook) SetSession(sessionID string) {
	h.gate.Lock()
	defer h.gate.Unlock()
	h.session.Store(&sessionID)
}

// Session returns the current session ID.
func (h *Hook) Session() string {
	if s := h.session.Load(); s != nil {
		return *s
	}
	return ""
}

// ShouldIntercept reports whether req will be captured.
func (h *Hook) ShouldIntercept(req *http.Request) bool {
	if !h.enabled.Load() || req == nil || req.URL == nil {
		return false
	}
	return !h.ignore.Match(req)
}

// admit runs add if capture is still on and reports whether it ran. A
// request that passed ShouldIntercept just before capture was switched off
// is forwarded without being recorded.
func (h *Hook) admit(add func()) bool {
	h.gate.RLock()
	defer h.gate.RUnlock()
	if !h.enabled.Load() {
		return false
	}
	add()
	return true
}
