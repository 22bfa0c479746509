package intercept

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/nettap/pkg/exchange"
	"github.com/getmockd/nettap/pkg/exchangelog"
)

func TestNewHook_RequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewHook(Options{})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestHook_ShouldIntercept(t *testing.T) {
	t.Parallel()

	h, err := NewHook(Options{Store: exchangelog.NewMemoryStore(exchangelog.Options{})})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "http://api.test/v1", nil)
	assert.True(t, h.ShouldIntercept(req))

	h.Ignore("api.test/v1")
	assert.False(t, h.ShouldIntercept(req))
	assert.True(t, h.ShouldIntercept(httptest.NewRequest("GET", "http://api.test/v2", nil)))

	h.SetEnabled(false)
	assert.False(t, h.Enabled())
	assert.False(t, h.ShouldIntercept(httptest.NewRequest("GET", "http://api.test/v2", nil)))

	assert.False(t, h.ShouldIntercept(nil))
}

func TestHook_DisabledOption(t *testing.T) {
	t.Parallel()

	h, err := NewHook(Options{Store: exchangelog.NewMemoryStore(exchangelog.Options{}), Disabled: true})
	require.NoError(t, err)
	assert.False(t, h.Enabled())
}

func TestHook_Session(t *testing.T) {
	t.Parallel()

	h, err := NewHook(Options{Store: exchangelog.NewMemoryStore(exchangelog.Options{})})
	require.NoError(t, err)

	assert.Empty(t, h.Session())
	h.SetSession("s-1")
	assert.Equal(t, "s-1", h.Session())
	assert.Equal(t, []string{}, h.IgnoredURLs())
}

// gatedStore holds the first Add until release is closed.
type gatedStore struct {
	*exchangelog.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Add(ex *exchange.Exchange) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	s.MemoryStore.Add(ex)
}

func TestHook_DisableWaitsForExchangeBeingAdded(t *testing.T) {
	t.Parallel()

	mem := exchangelog.NewMemoryStore(exchangelog.Options{})
	t.Cleanup(mem.Close)
	store := &gatedStore{
		MemoryStore: mem,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return textResponse(r, 200, "ok"), nil
	})
	f := newFixture(t, base, Options{Store: store})

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		resp, err := f.client.Get("http://a.test/first")
		if err == nil {
			_, _ = io.ReadAll(resp.Body)
			_ = resp.Body.Close()
		}
	}()
	<-store.entered

	disabled := make(chan struct{})
	go func() {
		f.hook.SetEnabled(false)
		close(disabled)
	}()
	select {
	case <-disabled:
		t.Fatal("SetEnabled(false) returned while an exchange was being added")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-disabled
	mem.Clear()
	<-sent

	resp, err := f.client.Get("http://a.test/second")
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Zero(t, mem.Count())
}

func TestHook_DisabledBeforeAddForwardsUnrecorded(t *testing.T) {
	t.Parallel()

	store := exchangelog.NewMemoryStore(exchangelog.Options{})
	t.Cleanup(store.Close)
	h, err := NewHook(Options{Store: store})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "http://a.test/", nil)
	require.True(t, h.ShouldIntercept(req))
	h.SetEnabled(false)

	c, out := h.begin(req)
	assert.Nil(t, c)
	assert.Same(t, req, out)
	assert.Zero(t, store.Count())
}
