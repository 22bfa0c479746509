package exchange

// Body is a frozen captured body.
type Body struct {
	// Data holds the retained bytes in arrival order. It is never nil for a
	// finished capture; an empty body has zero-length Data.
	Data []byte `json:"data"`

	// Size is the number of bytes observed on the wire, including any that
	// were not retained.
	Size int64 `json:"size"`

	// Truncated is set when Size exceeded the retention limit and Data holds
	// only the first bytes.
	Truncated bool `json:"truncated,omitempty"`

	// Incomplete is set when the stream ended by error or early close.
	Incomplete bool `json:"incomplete,omitempty"`
}

// EmptyBody returns a finished zero-length body.
func EmptyBody() *Body {
	return &Body{Data: []byte{}}
}

// Len returns the number of retained bytes.
func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// BodyBuffer accumulates a body as it streams past. It is owned by exactly
// one direction of one exchange and is not safe for concurrent use.
type BodyBuffer struct {
	max       int64
	data      []byte
	size      int64
	truncated bool
}

// NewBodyBuffer returns a buffer retaining at most maxBytes bytes. Zero or a
// negative value means unlimited.
func NewBodyBuffer(maxBytes int64) *BodyBuffer {
	return &BodyBuffer{max: maxBytes}
}

// Write appends p. Bytes past the retention limit are counted and dropped.
// It never fails.
func (b *BodyBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.size += int64(n)

	keep := p
	if b.max > 0 {
		room := b.max - int64(len(b.data))
		if room <= 0 {
			keep = nil
		} else if int64(len(keep)) > room {
			keep = keep[:room]
		}
		if len(keep) < n {
			b.truncated = true
		}
	}
	b.data = append(b.data, keep...)
	return n, nil
}

// Size returns the number of bytes written so far.
func (b *BodyBuffer) Size() int64 {
	return b.size
}

// Reset discards everything written, for a retried request body.
func (b *BodyBuffer) Reset() {
	b.data = b.data[:0]
	b.size = 0
	b.truncated = false
}

// Finish freezes the buffer into a complete Body.
func (b *BodyBuffer) Finish() *Body {
	return b.freeze(false)
}

// Abort freezes the buffer into a Body flagged Incomplete.
func (b *BodyBuffer) Abort() *Body {
	return b.freeze(true)
}

func (b *BodyBuffer) freeze(incomplete bool) *Body {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Body{
		Data:       data,
		Size:       b.size,
		Truncated:  b.truncated,
		Incomplete: incomplete,
	}
}
