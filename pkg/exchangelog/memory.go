package exchangelog

import (
	"strings"
	"sync"

	"github.com/getmockd/nettap/pkg/exchange"
)

// subscriberBuffer is the channel capacity handed out by Subscribe.
const subscriberBuffer = 100

// Options configures a MemoryStore.
type Options struct {
	// MaxEntries bounds the store; the oldest exchange is evicted first.
	// Zero means unbounded.
	MaxEntries int
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []*exchange.Exchange
	byID       map[string]*exchange.Exchange
	maxEntries int

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
	signal    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

var _ SubscribableStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	limit := opts.MaxEntries
	if limit < 0 {
		limit = 0
	}
	return &MemoryStore{
		byID:        make(map[string]*exchange.Exchange),
		maxEntries:  limit,
		subscribers: make(map[Subscriber]struct{}),
		observers:   make(map[int]func()),
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Add implements Store. Adding an id that is already present is ignored.
func (s *MemoryStore) Add(ex *exchange.Exchange) {
	if ex == nil {
		return
	}

	s.mu.Lock()
	if _, dup := s.byID[ex.ID]; dup {
		s.mu.Unlock()
		return
	}

	var evicted *exchange.Exchange
	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		evicted = s.entries[0]
		s.entries[0] = nil
		s.entries = s.entries[1:]
		delete(s.byID, evicted.ID)
	}

	s.entries = append(s.entries, ex)
	s.byID[ex.ID] = ex
	state := ex.State
	s.mu.Unlock()

	if evicted != nil {
		s.notify(Change{Op: OpEvicted, ID: evicted.ID, State: evicted.State})
	}
	s.notify(Change{Op: OpAdded, ID: ex.ID, State: state})
}

// Update implements Store.
func (s *MemoryStore) Update(id string, fn func(*exchange.Exchange)) bool {
	state, ok := s.apply(id, fn)
	if !ok {
		return false
	}
	s.notify(Change{Op: OpUpdated, ID: id, State: state})
	return true
}

// apply runs fn under the lock. The deferred unlock keeps the store usable
// if fn panics.
func (s *MemoryStore) apply(id string, fn func(*exchange.Exchange)) (exchange.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.byID[id]
	if !ok || ex.IsTerminal() {
		return "", false
	}
	fn(ex)
	return ex.State, true
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (exchange.Exchange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.byID[id]
	if !ok {
		return exchange.Exchange{}, false
	}
	return *ex.Clone(), true
}

// All implements Store.
func (s *MemoryStore) All() []exchange.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]exchange.Exchange, len(s.entries))
	for i, ex := range s.entries {
		out[i] = *ex.Clone()
	}
	return out
}

// List implements Store.
func (s *MemoryStore) List(filter *Filter) []exchange.Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]exchange.Exchange, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if filter.Matches(s.entries[i]) {
			out = append(out, *s.entries[i].Clone())
		}
	}

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return []exchange.Exchange{}
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
	}
	return out
}

// Count implements Store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear implements Store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.byID = make(map[string]*exchange.Exchange)
	s.mu.Unlock()

	s.notify(Change{Op: OpCleared})
}

// Subscribe implements SubscribableStore.
func (s *MemoryStore) Subscribe() (Subscriber, func()) {
	ch := make(Subscriber, subscriberBuffer)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// OnChange implements SubscribableStore. Callbacks run one at a time on the
// store's dispatcher goroutine; a panicking callback is recovered.
func (s *MemoryStore) OnChange(fn func()) func() {
	s.startOnce.Do(func() { go s.dispatch() })

	s.obsMu.Lock()
	key := s.nextObs
	s.nextObs++
	s.observers[key] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, key)
		s.obsMu.Unlock()
	}
}

// Close stops the dispatcher goroutine. Pending callbacks are dropped.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *MemoryStore) notify(c Change) {
	s.subMu.RLock()
	for sub := range s.subscribers {
		select {
		case sub <- c:
		default:
		}
	}
	s.subMu.RUnlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *MemoryStore) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.obsMu.Lock()
		fns := make([]func(), 0, len(s.observers))
		for _, fn := range s.observers {
			fns = append(fns, fn)
		}
		s.obsMu.Unlock()

		for _, fn := range fns {
			safeCall(fn)
		}
	}
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
