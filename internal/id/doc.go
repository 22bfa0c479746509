// Package id generates the identity tokens used by nettap.
//
// Two formats are used:
//
//   - Exchange: a ULID (26 characters, Crockford Base32). Exchange IDs are
//     time-sortable, so sorting captured exchanges by ID matches the order in
//     which they were intercepted. They are the correlation key between a
//     record in the store and the body taps that feed it.
//   - Session: a random UUID v4 naming one Start/Stop cycle of the controller.
//
// All randomness comes from crypto/rand.
package id
