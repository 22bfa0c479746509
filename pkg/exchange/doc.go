// Package exchange defines the record nettap builds for every intercepted
// HTTP request/response pair.
//
// An Exchange moves through four states:
//
//	pending ──SetResponse──▶ capturing ──Complete──▶ complete
//	   │                         │
//	   └─────────Fail────────────┴──────Fail──────▶ failed
//
// complete and failed are terminal. Once an exchange is terminal every
// mutator returns ErrTerminal and the record never changes again, so a
// consumer holding a terminal snapshot can treat it as immutable.
//
// Records that are still pending or capturing are visible to readers. They
// are distinguishable by State and by a nil Response (pending) or nil
// Response.Body (capturing).
//
// # Bodies
//
// Bodies are accumulated by a BodyBuffer while the application reads the
// stream and frozen into a Body when the stream ends. A Body records the
// bytes observed on the wire (Size), whether the retention limit dropped
// some of them (Truncated) and whether the stream ended early (Incomplete).
// Body data is never modified after it is frozen and may be shared between
// clones.
//
// DecodeBody undoes Content-Encoding (gzip, deflate, zstd) and transcodes
// the declared or sniffed charset to UTF-8 for display.
package exchange
