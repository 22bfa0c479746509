package exchangelog

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/nettap/pkg/exchange"
)

func newExchange(id, method, url string) *exchange.Exchange {
	req := httptest.NewRequest(method, url, nil)
	return exchange.New(id, "s", req, time.Now())
}

func respond(status int, contentType string) func(*exchange.Exchange) {
	return func(ex *exchange.Exchange) {
		_ = ex.SetResponse(&http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{"Content-Type": []string{contentType}},
		}, time.Now())
	}
}

func complete(ex *exchange.Exchange) {
	_ = ex.Complete(exchange.EmptyBody(), time.Now())
}

func TestMemoryStore_AddGetAll(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://x.test/1"))
	s.Add(newExchange("b", http.MethodGet, "http://x.test/2"))
	s.Add(nil)

	assert.Equal(t, 2, s.Count())

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "http://x.test/2", got.Request.URL)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestMemoryStore_DuplicateAddIgnored(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://x.test/1"))
	s.Add(newExchange("a", http.MethodPost, "http://x.test/other"))

	require.Equal(t, 1, s.Count())
	got, _ := s.Get("a")
	assert.Equal(t, http.MethodGet, got.Request.Method)
}

func TestMemoryStore_SnapshotsAreCopies(t *testing.T) {
	s := NewMemoryStore(Options{})
	ex := newExchange("a", http.MethodGet, "http://x.test/")
	ex.Request.Headers.Set("X", "1")
	s.Add(ex)

	snap, _ := s.Get("a")
	snap.Request.Headers.Set("X", "2")
	snap.State = exchange.StateFailed

	again, _ := s.Get("a")
	assert.Equal(t, "1", again.Request.Headers.Get("X"))
	assert.Equal(t, exchange.StatePending, again.State)
}

func TestMemoryStore_Update(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))

	assert.True(t, s.Update("a", respond(200, "text/plain")))
	got, _ := s.Get("a")
	assert.Equal(t, exchange.StateCapturing, got.State)

	assert.False(t, s.Update("missing", func(*exchange.Exchange) { t.Fatal("called for unknown id") }))
}

func TestMemoryStore_UpdateRejectsTerminal(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))
	require.True(t, s.Update("a", respond(200, "text/plain")))
	require.True(t, s.Update("a", complete))

	called := false
	assert.False(t, s.Update("a", func(*exchange.Exchange) { called = true }))
	assert.False(t, called)

	got, _ := s.Get("a")
	assert.Equal(t, exchange.StateComplete, got.State)
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))
	s.Clear()

	assert.Zero(t, s.Count())
	assert.Empty(t, s.All())
	assert.False(t, s.Update("a", complete))
}

func TestMemoryStore_Eviction(t *testing.T) {
	s := NewMemoryStore(Options{MaxEntries: 3})
	for i := 0; i < 5; i++ {
		s.Add(newExchange(fmt.Sprintf("e%d", i), http.MethodGet, "http://x.test/"))
	}

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "e2", all[0].ID)
	assert.Equal(t, "e4", all[2].ID)

	_, ok := s.Get("e0")
	assert.False(t, ok)
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.Add(newExchange("a", http.MethodGet, "http://api.test/users"))
	s.Add(newExchange("b", http.MethodPost, "http://api.test/users"))
	s.Add(newExchange("c", http.MethodGet, "http://cdn.test/logo.png"))
	s.Update("a", respond(200, "application/json"))
	s.Update("c", respond(404, "image/png"))

	hasErr := false
	tests := []struct {
		name   string
		filter *Filter
		want   []string
	}{
		{"nil filter newest first", nil, []string{"c", "b", "a"}},
		{"method", &Filter{Method: http.MethodPost}, []string{"b"}},
		{"url substring", &Filter{URL: "API.test"}, []string{"b", "a"}},
		{"kind", &Filter{Kind: exchange.KindImage}, []string{"c"}},
		{"status", &Filter{StatusCode: 200}, []string{"a"}},
		{"state", &Filter{State: exchange.StatePending}, []string{"b"}},
		{"no error", &Filter{HasError: &hasErr}, []string{"c", "b", "a"}},
		{"limit", &Filter{Limit: 2}, []string{"c", "b"}},
		{"offset", &Filter{Offset: 1}, []string{"b", "a"}},
		{"offset past end", &Filter{Offset: 5}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.List(tt.filter)
			ids := make([]string, 0, len(got))
			for _, ex := range got {
				ids = append(ids, ex.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	s := NewMemoryStore(Options{MaxEntries: 1})
	ch, unsubscribe := s.Subscribe()

	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))
	s.Update("a", respond(200, "text/plain"))
	s.Add(newExchange("b", http.MethodGet, "http://x.test/"))
	s.Clear()

	want := []Change{
		{Op: OpAdded, ID: "a", State: exchange.StatePending},
		{Op: OpUpdated, ID: "a", State: exchange.StateCapturing},
		{Op: OpEvicted, ID: "a", State: exchange.StateCapturing},
		{Op: OpAdded, ID: "b", State: exchange.StatePending},
		{Op: OpCleared},
	}
	for _, w := range want {
		select {
		case got := <-ch:
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", w)
		}
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewMemoryStore(Options{})
	_, unsubscribe := s.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			s.Add(newExchange(fmt.Sprintf("e%d", i), http.MethodGet, "http://x.test/"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Add blocked on a full subscriber")
	}
	assert.Equal(t, subscriberBuffer*3, s.Count())
}

func TestMemoryStore_OnChange(t *testing.T) {
	s := NewMemoryStore(Options{})
	defer s.Close()

	var calls atomic.Int32
	fired := make(chan struct{}, 1)
	cancel := s.OnChange(func() {
		calls.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}

	cancel()
	before := calls.Load()
	s.Add(newExchange("b", http.MethodGet, "http://x.test/"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func TestMemoryStore_OnChangePanicRecovered(t *testing.T) {
	s := NewMemoryStore(Options{})
	defer s.Close()

	s.OnChange(func() { panic("observer bug") })
	fired := make(chan struct{}, 10)
	s.OnChange(func() { fired <- struct{}{} })

	s.Add(newExchange("a", http.MethodGet, "http://x.test/"))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("healthy observer not called")
	}

	s.Add(newExchange("b", http.MethodGet, "http://x.test/"))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("dispatcher died after panic")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(Options{})
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("e%d", i)
			s.Add(newExchange(id, http.MethodGet, "http://x.test/"))
			s.Update(id, respond(200, "text/plain"))
			_ = s.All()
			s.Update(id, complete)
		}()
	}
	wg.Wait()

	require.Equal(t, n, s.Count())
	for _, ex := range s.All() {
		assert.Equal(t, exchange.StateComplete, ex.State)
	}
}
