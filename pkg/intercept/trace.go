package intercept

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/getmockd/nettap/pkg/exchange"
)

// traceRecorder collects connection timings. Trace callbacks may run on
// transport goroutines, hence the mutex.
type traceRecorder struct {
	mu        sync.Mutex
	start     time.Time
	dnsStart  time.Time
	connStart time.Time
	tlsStart  time.Time
	gotConn   time.Time
	timings   exchange.Timings
}

func newTraceRecorder(start time.Time) *traceRecorder {
	return &traceRecorder{start: start}
}

func (r *traceRecorder) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			r.mark(&r.dnsStart)
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.since(&r.timings.DNS, &r.dnsStart)
		},
		ConnectStart: func(_, _ string) {
			r.mark(&r.connStart)
		},
		ConnectDone: func(_, _ string, _ error) {
			r.since(&r.timings.Connect, &r.connStart)
		},
		TLSHandshakeStart: func() {
			r.mark(&r.tlsStart)
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			r.since(&r.timings.TLS, &r.tlsStart)
		},
		GotConn: func(httptrace.GotConnInfo) {
			r.mark(&r.gotConn)
		},
		GotFirstResponseByte: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			from := r.gotConn
			if from.IsZero() {
				from = r.start
			}
			r.timings.TTFB = time.Since(from)
		},
	}
}

func (r *traceRecorder) mark(t *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*t = time.Now()
}

// since stores the time elapsed from *start into d, if start was marked.
func (r *traceRecorder) since(d *time.Duration, start *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !start.IsZero() {
		*d = time.Since(*start)
	}
}

func (r *traceRecorder) snapshot() exchange.Timings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timings
}
