// Package exchangelog keeps the log of captured exchanges.
//
// The interception path writes to a Store: it adds an exchange when a
// request is sent and updates it as the response arrives. Readers get deep
// copies, so nothing a reader does can race with capture.
//
// # Observing changes
//
// Two mechanisms are available:
//
//   - Subscribe returns a buffered channel of Change values. Sends never
//     block; a subscriber that falls behind misses changes and should
//     re-read with All.
//   - OnChange registers a callback invoked on a dispatcher goroutine owned
//     by the store. Bursts of changes are coalesced into a single call.
//
// Neither mechanism runs observer code on the goroutine that made the
// change, so a slow observer never delays the application's requests.
//
// # Retention
//
// MemoryStore is unbounded unless MaxEntries is set, in which case the
// oldest exchange is evicted first. Clear drops everything.
package exchangelog
