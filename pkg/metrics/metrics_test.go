package metrics

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	t.Run("without labels", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("test_counter", "A test counter")

		require.NoError(t, c.Inc())
		require.NoError(t, c.Inc())
		require.NoError(t, c.Add(3))

		samples := c.Collect()
		require.Len(t, samples, 1)
		assert.Equal(t, float64(5), samples[0].Value)
	})

	t.Run("with labels", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("http_requests", "Total HTTP requests", "method", "status")

		vec, err := c.WithLabels("GET", "200")
		require.NoError(t, err)
		require.NoError(t, vec.Inc())
		vec, _ = c.WithLabels("GET", "200")
		require.NoError(t, vec.Inc())
		vec, _ = c.WithLabels("POST", "201")
		require.NoError(t, vec.Add(5))

		samples := c.Collect()
		require.Len(t, samples, 2)
		assert.Equal(t, map[string]string{"method": "GET", "status": "200"}, samples[0].Labels)
		assert.Equal(t, float64(2), samples[0].Value)
		assert.Equal(t, float64(5), samples[1].Value)
	})

	t.Run("wrong label count returns error", func(t *testing.T) {
		c := NewRegistry().NewCounter("labelled", "help", "a")
		_, err := c.WithLabels("x", "y")
		assert.True(t, errors.Is(err, ErrLabelCountMismatch))
		assert.ErrorIs(t, c.Inc(), ErrLabelCountMismatch)
	})

	t.Run("negative add rejected", func(t *testing.T) {
		c := NewRegistry().NewCounter("neg", "help")
		assert.ErrorIs(t, c.Add(-1), ErrNegativeCounterValue)
	})
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("entries", "Entries", "store")

	vec, err := g.WithLabels("memory")
	require.NoError(t, err)
	vec.Set(10)
	vec.Add(-3)

	samples := g.Collect()
	require.Len(t, samples, 1)
	assert.Equal(t, float64(7), samples[0].Value)

	plain := r.NewGauge("plain", "Plain gauge")
	require.NoError(t, plain.Set(2.5))
	assert.Equal(t, 2.5, plain.Collect()[0].Value)
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("latency", "Latency", []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.05, 0.2, 0.2, 0.7, 3} {
		require.NoError(t, h.Observe(v))
	}

	samples := h.Collect()
	// 3 buckets + +Inf + _sum + _count
	require.Len(t, samples, 6)

	want := []struct {
		le    string
		count float64
	}{
		{"0.1", 1},
		{"0.5", 3},
		{"1", 4},
		{"+Inf", 5},
	}
	for i, w := range want {
		assert.Equal(t, "latency_bucket", samples[i].Name)
		assert.Equal(t, w.le, samples[i].Labels["le"])
		assert.Equal(t, w.count, samples[i].Value, "le=%s", w.le)
	}
	assert.Equal(t, "latency_sum", samples[4].Name)
	assert.InDelta(t, 4.15, samples[4].Value, 1e-9)
	assert.Equal(t, "latency_count", samples[5].Name)
	assert.Equal(t, float64(5), samples[5].Value)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("dup", "first")
	assert.Panics(t, func() { r.NewGauge("dup", "second") })
}

func TestRegistry_WriteText(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("requests_total", "Total requests\nacross runs", "path")
	r.NewGauge("unused", "Never set")

	vec, _ := c.WithLabels(`/a"b`)
	_ = vec.Inc()

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "# HELP requests_total Total requests\\nacross runs\n")
	assert.Contains(t, out, "# TYPE requests_total counter\n")
	assert.Contains(t, out, `requests_total{path="/a\"b"} 1`)
	assert.NotContains(t, out, "unused")
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	_ = r.NewCounter("hits", "Hits").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "hits 1\n")
}

func TestConcurrency(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("concurrent", "help", "worker")
	h := r.NewHistogram("concurrent_seconds", "help", DefaultBuckets)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			label := "even"
			if i%2 == 1 {
				label = "odd"
			}
			for range 100 {
				vec, _ := c.WithLabels(label)
				_ = vec.Inc()
				_ = h.Observe(0.01)
			}
		})
	}
	wg.Wait()

	total := 0.0
	for _, s := range c.Collect() {
		total += s.Value
	}
	assert.Equal(t, float64(2000), total)
	samples := h.Collect()
	assert.Equal(t, float64(2000), samples[len(samples)-1].Value)
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{0.25, "0.25"},
		{1e20, "1e+20"},
		{math.Inf(1), "+Inf"},
		{math.Inf(-1), "-Inf"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFloat(tt.in))
	}
}

func TestEscapeLabelValue(t *testing.T) {
	assert.Equal(t, `a\\b\"c\nd`, escapeLabelValue("a\\b\"c\nd"))
}

func TestCapture_Observe(t *testing.T) {
	r := NewRegistry()
	c := NewCapture(r)

	ok := exchange.Exchange{
		State:    exchange.StateComplete,
		Request:  exchange.Request{Method: "POST", Body: &exchange.Body{Size: 12}},
		Response: &exchange.Response{StatusCode: 201, Headers: map[string][]string{"Content-Type": {"application/json"}}, Body: &exchange.Body{Size: 100, Truncated: true}},
		Timings:  exchange.Timings{TTFB: 20 * time.Millisecond},
		Duration: 30 * time.Millisecond,
	}
	failed := exchange.Exchange{
		State:    exchange.StateFailed,
		Request:  exchange.Request{Method: "GET"},
		Duration: time.Second,
		Err:      &exchange.Error{Code: exchange.CodeTimeout, Message: "deadline"},
	}
	pending := exchange.Exchange{State: exchange.StatePending, Request: exchange.Request{Method: "GET"}}

	c.Observe(&ok)
	c.Observe(&failed)
	c.Observe(&pending)
	c.Observe(nil)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, `nettap_exchanges_total{method="POST",state="complete",status="201"} 1`)
	assert.Contains(t, out, `nettap_exchanges_total{method="GET",state="failed",status="none"} 1`)
	assert.Contains(t, out, `nettap_exchange_duration_seconds_count{kind="json",method="POST"} 1`)
	assert.Contains(t, out, `nettap_failures_total{code="timeout"} 1`)
	assert.Contains(t, out, `nettap_body_bytes_total{direction="request"} 12`)
	assert.Contains(t, out, `nettap_body_bytes_total{direction="response"} 100`)
	assert.Contains(t, out, `nettap_truncated_bodies_total{direction="response"} 1`)
	assert.Contains(t, out, "nettap_time_to_first_byte_seconds_count 1")
	assert.Equal(t, 2, strings.Count(out, "nettap_exchanges_total{"))
}
