package intercept

import (
	"net/http"
	"strings"
	"sync"
)

// IgnoreList is an ordered set of URL patterns excluded from capture. A
// request matches when its lowercased host followed by its path contains a
// pattern.
type IgnoreList struct {
	mu       sync.RWMutex
	patterns []string
}

// Add appends pattern. Empty and duplicate patterns are ignored.
func (l *IgnoreList) Add(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.patterns {
		if p == pattern {
			return
		}
	}
	l.patterns = append(l.patterns, pattern)
}

// Patterns returns a copy of the patterns in insertion order.
func (l *IgnoreList) Patterns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.patterns))
	copy(out, l.patterns)
	return out
}

// Match reports whether req should be skipped.
func (l *IgnoreList) Match(req *http.Request) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.patterns) == 0 {
		return false
	}
	target := matchTarget(req)
	for _, p := range l.patterns {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

func matchTarget(req *http.Request) string {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	return strings.ToLower(host) + req.URL.Path
}
