package metrics

import (
	"strconv"

	"github.com/getmockd/nettap/pkg/exchange"
)

// DefaultBuckets are the default histogram buckets for exchange durations (in seconds).
var DefaultBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1,     // 1s
	2.5,   // 2.5s
	5,     // 5s
	10,    // 10s
}

// Capture holds the metrics recorded for finished exchanges.
//
// Label values:
//   - state: complete, failed
//   - status: numeric response code, or "none" when no response arrived
//   - kind: json, xml, html, image, text, other
//   - code: transport, canceled, timeout, capture
//   - direction: request, response
type Capture struct {
	// ExchangesTotal counts finished exchanges.
	// Labels: method, state, status
	ExchangesTotal *Counter

	// ExchangeDuration tracks exchange durations in seconds.
	// Labels: method, kind
	ExchangeDuration *Histogram

	// TimeToFirstByte tracks the time until response headers arrived.
	TimeToFirstByte *Histogram

	// FailuresTotal counts failed exchanges by error code.
	// Labels: code
	FailuresTotal *Counter

	// BodyBytesTotal counts body bytes seen on the wire.
	// Labels: direction
	BodyBytesTotal *Counter

	// TruncatedTotal counts bodies cut at the retention limit.
	// Labels: direction
	TruncatedTotal *Counter
}

// NewCapture registers the capture metrics on r.
func NewCapture(r *Registry) *Capture {
	return &Capture{
		ExchangesTotal: r.NewCounter(
			"nettap_exchanges_total",
			"Total number of finished exchanges",
			"method", "state", "status",
		),
		ExchangeDuration: r.NewHistogram(
			"nettap_exchange_duration_seconds",
			"Duration of exchanges from send to completion in seconds",
			DefaultBuckets,
			"method", "kind",
		),
		TimeToFirstByte: r.NewHistogram(
			"nettap_time_to_first_byte_seconds",
			"Time from connection to the first response byte in seconds",
			DefaultBuckets,
		),
		FailuresTotal: r.NewCounter(
			"nettap_failures_total",
			"Total number of failed exchanges",
			"code",
		),
		BodyBytesTotal: r.NewCounter(
			"nettap_body_bytes_total",
			"Total body bytes observed",
			"direction",
		),
		TruncatedTotal: r.NewCounter(
			"nettap_truncated_bodies_total",
			"Total number of bodies truncated at the retention limit",
			"direction",
		),
	}
}

// Observe records a terminal exchange. Non-terminal exchanges are ignored.
func (c *Capture) Observe(ex *exchange.Exchange) {
	if ex == nil || !ex.IsTerminal() {
		return
	}

	status := "none"
	if ex.Response != nil {
		status = strconv.Itoa(ex.Response.StatusCode)
	}
	if vec, err := c.ExchangesTotal.WithLabels(ex.Request.Method, string(ex.State), status); err == nil {
		_ = vec.Inc()
	}
	if vec, err := c.ExchangeDuration.WithLabels(ex.Request.Method, string(ex.Kind())); err == nil {
		vec.Observe(ex.Duration.Seconds())
	}
	if ex.Response != nil && ex.Timings.TTFB > 0 {
		_ = c.TimeToFirstByte.Observe(ex.Timings.TTFB.Seconds())
	}
	if ex.Err != nil {
		if vec, err := c.FailuresTotal.WithLabels(string(ex.Err.Code)); err == nil {
			_ = vec.Inc()
		}
	}

	c.body("request", ex.Request.Body)
	if ex.Response != nil {
		c.body("response", ex.Response.Body)
	}
}

func (c *Capture) body(direction string, b *exchange.Body) {
	if b == nil {
		return
	}
	if vec, err := c.BodyBytesTotal.WithLabels(direction); err == nil {
		_ = vec.Add(float64(b.Size))
	}
	if b.Truncated {
		if vec, err := c.TruncatedTotal.WithLabels(direction); err == nil {
			_ = vec.Inc()
		}
	}
}
