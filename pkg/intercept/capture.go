package intercept

import (
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/getmockd/nettap/pkg/exchange"
)

// capture is the per-exchange state shared by the request and response taps
// of one intercepted round trip.
type capture struct {
	hook *Hook
	id   string
	ctx  context.Context

	trace *traceRecorder

	mu       sync.Mutex
	finished bool
	unwatch  func() bool

	reqBuf    *exchange.BodyBuffer
	reqGen    int
	reqEOF    bool
	reqLength int64
	reqBody   *exchange.Body
	respBuf   *exchange.BodyBuffer
}

// roundTrip forwards req through base while recording it.
func (h *Hook) roundTrip(base http.RoundTripper, req *http.Request) (*http.Response, error) {
	c, out := h.begin(req)
	if c == nil {
		return base.RoundTrip(req)
	}

	resp, err := base.RoundTrip(out)
	if err != nil {
		c.guard(func() {
			cause := exchange.Classify(c.ctx, err)
			c.finalize(func(ex *exchange.Exchange, now time.Time) {
				_ = ex.Fail(cause, nil, now)
			})
		})
		return resp, err
	}
	return c.onResponse(req, resp), nil
}

// begin registers a pending exchange and returns the request to forward. A
// nil capture means capture could not be set up and req must be forwarded
// as is.
func (h *Hook) begin(req *http.Request) (c *capture, out *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("capture setup failed", "url", req.URL.Redacted(), "panic", r)
			c, out = nil, req
		}
	}()

	now := time.Now()
	c = &capture{
		hook:      h,
		id:        h.newID(),
		ctx:       req.Context(),
		trace:     newTraceRecorder(now),
		reqLength: req.ContentLength,
		respBuf:   exchange.NewBodyBuffer(h.maxBody),
	}

	out = req.Clone(httptrace.WithClientTrace(req.Context(), c.trace.clientTrace()))
	if req.Body != nil && req.Body != http.NoBody {
		c.reqBuf = exchange.NewBodyBuffer(h.maxBody)
		out.Body = &requestTap{rc: req.Body, c: c}
		if req.GetBody != nil {
			out.GetBody = c.wrapGetBody(req.GetBody)
		}
	}

	if !h.admit(func() { h.store.Add(exchange.New(c.id, h.Session(), req, now)) }) {
		return nil, req
	}

	c.mu.Lock()
	c.unwatch = context.AfterFunc(c.ctx, c.contextDone)
	c.mu.Unlock()
	return c, out
}

// contextDone fails the exchange once the request context ends, whether or
// not the caller ever touches the response body again.
func (c *capture) contextDone() {
	c.guard(func() {
		cause := exchange.Classify(c.ctx, c.ctx.Err())
		c.finalize(func(ex *exchange.Exchange, now time.Time) {
			_ = ex.Fail(cause, c.respBuf.Abort(), now)
		})
	})
}

func (c *capture) wrapGetBody(getBody func() (io.ReadCloser, error)) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		body, err := getBody()
		if err != nil || body == nil || body == http.NoBody {
			return body, err
		}
		gen := 0
		c.guard(func() { gen = c.resetRequest() })
		return &requestTap{rc: body, c: c, gen: gen}, nil
	}
}

// onResponse records the response headers and installs the body tap.
func (c *capture) onResponse(orig *http.Request, resp *http.Response) *http.Response {
	resp.Request = orig

	c.guard(func() {
		now := time.Now()
		c.hook.store.Update(c.id, func(ex *exchange.Exchange) {
			ex.Timings = c.trace.snapshot()
			_ = ex.SetResponse(resp, now)
		})

		if bodyless(orig, resp) {
			c.finalize(func(ex *exchange.Exchange, now time.Time) {
				_ = ex.Complete(exchange.EmptyBody(), now)
			})
			return
		}
		resp.Body = &responseTap{rc: resp.Body, c: c}
	})
	return resp
}

// bodyless reports responses that carry no body to tap. Protocol upgrades
// are included: their body is the raw connection.
func bodyless(req *http.Request, resp *http.Response) bool {
	if resp.Body == nil || resp.Body == http.NoBody {
		return true
	}
	if req.Method == http.MethodHead {
		return true
	}
	switch {
	case resp.StatusCode == http.StatusNoContent,
		resp.StatusCode == http.StatusNotModified,
		resp.StatusCode >= 100 && resp.StatusCode < 200:
		return true
	}
	return false
}

func (c *capture) recordRequest(gen int, p []byte, eof bool) {
	var publish *exchange.Body
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.finished || gen != c.reqGen || c.reqBody != nil {
			return
		}
		_, _ = c.reqBuf.Write(p)
		if eof {
			c.reqEOF = true
			c.reqBody = c.reqBuf.Finish()
			publish = c.reqBody
		}
	}()
	c.publishRequest(publish)
}

func (c *capture) closeRequest(gen int) {
	var publish *exchange.Body
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.finished || gen != c.reqGen || c.reqBody != nil {
			return
		}
		c.reqBody = c.freezeRequestLocked()
		publish = c.reqBody
	}()
	c.publishRequest(publish)
}

// resetRequest starts a new request body generation for a retried send and
// returns it. Writes from older taps are ignored from then on.
func (c *capture) resetRequest() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return c.reqGen
	}
	c.reqGen++
	c.reqBuf.Reset()
	c.reqEOF = false
	c.reqBody = nil
	return c.reqGen
}

// freezeRequestLocked freezes the request body. A body counts as complete
// when EOF was read or all ContentLength bytes were sent.
func (c *capture) freezeRequestLocked() *exchange.Body {
	if c.reqBuf == nil {
		return nil
	}
	if c.reqEOF || (c.reqLength > 0 && c.reqBuf.Size() == c.reqLength) {
		return c.reqBuf.Finish()
	}
	return c.reqBuf.Abort()
}

func (c *capture) publishRequest(b *exchange.Body) {
	if b == nil {
		return
	}
	c.hook.store.Update(c.id, func(ex *exchange.Exchange) {
		_ = ex.SetRequestBody(b)
	})
}

func (c *capture) recordResponse(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	_, _ = c.respBuf.Write(p)
}

// responseEOF completes the exchange with the full body.
func (c *capture) responseEOF() {
	c.finalize(func(ex *exchange.Exchange, now time.Time) {
		_ = ex.Complete(c.respBuf.Finish(), now)
	})
}

// responseClosed completes the exchange when the caller closes the body.
// Anything not yet read is missing, so the body is marked Incomplete. A
// close after the request context ended fails the exchange instead.
func (c *capture) responseClosed() {
	if err := c.ctx.Err(); err != nil {
		cause := exchange.Classify(c.ctx, err)
		c.finalize(func(ex *exchange.Exchange, now time.Time) {
			_ = ex.Fail(cause, c.respBuf.Abort(), now)
		})
		return
	}
	c.finalize(func(ex *exchange.Exchange, now time.Time) {
		_ = ex.Complete(c.respBuf.Abort(), now)
	})
}

// responseFailed fails the exchange after a body read error.
func (c *capture) responseFailed(err error) {
	cause := exchange.Classify(c.ctx, err)
	c.finalize(func(ex *exchange.Exchange, now time.Time) {
		_ = ex.Fail(cause, c.respBuf.Abort(), now)
	})
}

// finalize moves the exchange to a terminal state exactly once. apply runs
// under the store lock with c.mu held, so the body buffers are stable.
func (c *capture) finalize(apply func(ex *exchange.Exchange, now time.Time)) {
	final := c.finalizeLocked(apply)
	if final == nil {
		return
	}

	c.hook.logger.Debug("exchange finished",
		"id", final.ID,
		"method", final.Request.Method,
		"url", final.Request.URL,
		"state", final.State,
		"duration", final.Duration,
	)
	if c.hook.onFinish != nil {
		c.hook.onFinish(*final)
	}
}

func (c *capture) finalizeLocked(apply func(ex *exchange.Exchange, now time.Time)) *exchange.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil
	}
	c.finished = true
	c.stopWatchLocked()

	if c.reqBody == nil {
		c.reqBody = c.freezeRequestLocked()
	}
	reqBody := c.reqBody

	var final *exchange.Exchange
	now := time.Now()
	c.hook.store.Update(c.id, func(ex *exchange.Exchange) {
		if reqBody != nil {
			ex.Request.Body = reqBody
		}
		ex.Timings = c.trace.snapshot()
		apply(ex, now)
		final = ex.Clone()
	})
	return final
}

func (c *capture) stopWatchLocked() {
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
}

// guard runs fn and turns a panic into a failed exchange. Capture of the
// exchange stops; the caller's request is unaffected.
func (c *capture) guard(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		c.hook.logger.Warn("capture fault", "id", c.id, "panic", r)
		c.abandon(r)
	}()
	fn()
}

// abandon fails the exchange with a capture fault. It must not panic.
func (c *capture) abandon(v any) {
	defer func() { _ = recover() }()

	c.mu.Lock()
	already := c.finished
	c.finished = true
	c.stopWatchLocked()
	c.mu.Unlock()
	if already {
		return
	}

	cause := exchange.CaptureFault(v)
	now := time.Now()
	c.hook.store.Update(c.id, func(ex *exchange.Exchange) {
		_ = ex.Fail(cause, nil, now)
	})
}
