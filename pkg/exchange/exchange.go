package exchange

import (
	"fmt"
	"net/http"
	"time"
)

// Exchange is one intercepted request/response pair.
type Exchange struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	State     State  `json:"state"`

	Request  Request   `json:"request"`
	Response *Response `json:"response,omitempty"`
	Timings  Timings   `json:"timings"`

	CompletedAt time.Time     `json:"completedAt,omitzero"`
	Duration    time.Duration `json:"duration"`
	Err         *Error        `json:"error,omitempty"`
}

// Request is the request side of an exchange as it was sent.
type Request struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Host    string      `json:"host"`
	Proto   string      `json:"proto,omitempty"`
	Headers http.Header `json:"headers"`
	// Body is nil for bodyless requests.
	Body   *Body     `json:"body,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

// Response is the response side of an exchange.
type Response struct {
	StatusCode int         `json:"statusCode"`
	Status     string      `json:"status"`
	Proto      string      `json:"proto"`
	Headers    http.Header `json:"headers"`
	// Body stays nil until the body stream ends.
	Body       *Body     `json:"body,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Timings are connection phase durations collected with httptrace. Phases
// skipped by a reused connection are zero.
type Timings struct {
	DNS     time.Duration `json:"dns"`
	Connect time.Duration `json:"connect"`
	TLS     time.Duration `json:"tls"`
	TTFB    time.Duration `json:"ttfb"`
}

// New creates a pending exchange for req. Headers are cloned; req is not
// retained.
func New(id, sessionID string, req *http.Request, sentAt time.Time) *Exchange {
	host := req.Host
	if host == "" && req.URL != nil {
		host = req.URL.Host
	}
	url := ""
	if req.URL != nil {
		url = req.URL.String()
	}
	return &Exchange{
		ID:        id,
		SessionID: sessionID,
		State:     StatePending,
		Request: Request{
			Method:  methodOrGet(req.Method),
			URL:     url,
			Host:    host,
			Proto:   req.Proto,
			Headers: req.Header.Clone(),
			SentAt:  sentAt,
		},
	}
}

func methodOrGet(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}

// SetRequestBody records the captured request body.
func (e *Exchange) SetRequestBody(b *Body) error {
	if e.State.IsTerminal() {
		return ErrTerminal
	}
	e.Request.Body = b
	return nil
}

// SetResponse records response headers and moves the exchange to capturing.
func (e *Exchange) SetResponse(resp *http.Response, at time.Time) error {
	if e.State.IsTerminal() {
		return ErrTerminal
	}
	if e.State != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, StateCapturing)
	}
	e.Response = &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		Headers:    resp.Header.Clone(),
		ReceivedAt: at,
	}
	e.State = StateCapturing
	return nil
}

// Complete records the response body and finalizes the exchange.
func (e *Exchange) Complete(body *Body, at time.Time) error {
	if e.State.IsTerminal() {
		return ErrTerminal
	}
	if e.State != StateCapturing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, StateComplete)
	}
	if body == nil {
		body = EmptyBody()
	}
	e.Response.Body = body
	e.finish(StateComplete, at)
	return nil
}

// Fail finalizes the exchange as failed. partial, when non-nil and a
// response was received, is kept as the response body.
func (e *Exchange) Fail(cause *Error, partial *Body, at time.Time) error {
	if e.State.IsTerminal() {
		return ErrTerminal
	}
	if e.Response != nil && partial != nil {
		e.Response.Body = partial
	}
	e.Err = cause
	e.finish(StateFailed, at)
	return nil
}

func (e *Exchange) finish(s State, at time.Time) {
	e.State = s
	e.CompletedAt = at
	e.Duration = at.Sub(e.Request.SentAt)
}

// IsTerminal reports whether the exchange is complete or failed.
func (e *Exchange) IsTerminal() bool {
	return e.State.IsTerminal()
}

// Kind classifies the response body. Exchanges without a response are
// KindOther.
func (e *Exchange) Kind() Kind {
	if e.Response == nil {
		return KindOther
	}
	return KindOf(e.Response.Headers.Get("Content-Type"))
}

// Clone returns a deep copy. Bodies are shared since they are never
// modified once frozen.
func (e *Exchange) Clone() *Exchange {
	if e == nil {
		return nil
	}
	c := *e
	c.Request.Headers = e.Request.Headers.Clone()
	if e.Response != nil {
		r := *e.Response
		r.Headers = e.Response.Headers.Clone()
		c.Response = &r
	}
	if e.Err != nil {
		err := *e.Err
		c.Err = &err
	}
	return &c
}

// HeaderMap flattens the request headers, keeping the last value of each.
func (r *Request) HeaderMap() map[string]string {
	return HeaderMap(r.Headers)
}

// HeaderMap flattens the response headers, keeping the last value of each.
func (r *Response) HeaderMap() map[string]string {
	return HeaderMap(r.Headers)
}

// HeaderMap flattens h to canonical name -> value. When a header repeats,
// the last value wins.
func HeaderMap(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		m[http.CanonicalHeaderKey(k)] = vs[len(vs)-1]
	}
	return m
}
