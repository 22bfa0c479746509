package intercept

import (
	"errors"
	"net/http"
	"sync/atomic"
)

// Registration errors.
var (
	ErrHookRegistered    = errors.New("intercept: a different hook is already registered")
	ErrHookNotRegistered = errors.New("intercept: hook is not registered")
)

// Registrar is the host integration point a Hook is installed into.
type Registrar interface {
	Register(h *Hook) error
	Unregister(h *Hook) error
}

// Transport is an http.RoundTripper that hands requests to the registered
// Hook, if any, before forwarding them to Base.
type Transport struct {
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper

	hook atomic.Pointer[Hook]
}

var (
	_ http.RoundTripper = (*Transport)(nil)
	_ Registrar         = (*Transport)(nil)
)

// NewTransport wraps base.
func NewTransport(base http.RoundTripper) *Transport {
	return &Transport{Base: base}
}

// Register installs h. Registering the hook that is already installed is a
// no-op.
func (t *Transport) Register(h *Hook) error {
	if h == nil {
		return errors.New("intercept: nil hook")
	}
	if t.hook.CompareAndSwap(nil, h) || t.hook.Load() == h {
		return nil
	}
	return ErrHookRegistered
}

// Unregister removes h. Removing when nothing is installed is a no-op.
func (t *Transport) Unregister(h *Hook) error {
	if t.hook.CompareAndSwap(h, nil) || t.hook.Load() == nil {
		return nil
	}
	return ErrHookNotRegistered
}

// Hook returns the installed hook, or nil.
func (t *Transport) Hook() *Hook {
	return t.hook.Load()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	h := t.hook.Load()
	if h == nil || !h.ShouldIntercept(req) {
		return t.base().RoundTrip(req)
	}
	return h.roundTrip(t.base(), req)
}

// CloseIdleConnections forwards to Base when it supports it.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.base().(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
