// Package artifacts manages the files nettap writes next to its in-memory
// log: a session log of finished exchanges as JSON lines and, optionally, a
// scratch file per captured body.
//
// Every file lives in one directory and is named with a common prefix, so
// ClearOldData can remove a previous run's leftovers with a single glob.
// Writes happen on a background goroutine; Record never blocks the
// goroutine that finished an exchange and drops records when the queue is
// full.
package artifacts
