package exchangelog

import (
	"github.com/getmockd/nettap/pkg/exchange"
)

// Store holds captured exchanges in insertion order.
type Store interface {
	// Add appends a new exchange. The store takes ownership of ex.
	Add(ex *exchange.Exchange)

	// Update applies fn to the exchange with the given id under the store
	// lock. It returns false without calling fn if the id is unknown or the
	// exchange is already terminal.
	Update(id string, fn func(*exchange.Exchange)) bool

	// Get returns a copy of one exchange.
	Get(id string) (exchange.Exchange, bool)

	// All returns copies of every exchange, oldest first.
	All() []exchange.Exchange

	// List returns copies of the exchanges matching filter, newest first.
	List(filter *Filter) []exchange.Exchange

	// Count returns the number of exchanges held.
	Count() int

	// Clear removes every exchange.
	Clear()
}

// SubscribableStore is a Store that reports changes.
type SubscribableStore interface {
	Store

	// Subscribe returns a channel of changes and a function that
	// unsubscribes and closes it.
	Subscribe() (Subscriber, func())

	// OnChange registers fn to be called after changes and returns a
	// function that removes it.
	OnChange(fn func()) func()
}

// Op is the kind of change reported to subscribers.
type Op string

// Change operations.
const (
	OpAdded   Op = "added"
	OpUpdated Op = "updated"
	OpEvicted Op = "evicted"
	OpCleared Op = "cleared"
)

// Change describes one mutation of the store. ID is empty for OpCleared.
type Change struct {
	Op    Op
	ID    string
	State exchange.State
}

// Subscriber receives changes.
type Subscriber chan Change

// Filter selects exchanges in List. Zero-valued fields match everything.
type Filter struct {
	// Method matches the request method exactly.
	Method string

	// URL matches a case-insensitive substring of the request URL.
	URL string

	// Kind matches the response classification.
	Kind exchange.Kind

	// State matches the capture state.
	State exchange.State

	// StatusCode matches the response status.
	StatusCode int

	// HasError selects failed (true) or non-failed (false) exchanges.
	HasError *bool

	// Limit caps the number of results.
	Limit int

	// Offset skips results.
	Offset int
}

// Matches reports whether ex satisfies every criterion of f.
func (f *Filter) Matches(ex *exchange.Exchange) bool {
	if f == nil {
		return true
	}
	if f.Method != "" && ex.Request.Method != f.Method {
		return false
	}
	if f.URL != "" && !contains(ex.Request.URL, f.URL) {
		return false
	}
	if f.Kind != "" && ex.Kind() != f.Kind {
		return false
	}
	if f.State != "" && ex.State != f.State {
		return false
	}
	if f.StatusCode != 0 && (ex.Response == nil || ex.Response.StatusCode != f.StatusCode) {
		return false
	}
	if f.HasError != nil && *f.HasError != (ex.Err != nil) {
		return false
	}
	return true
}
