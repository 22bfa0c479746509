package intercept

import (
	"errors"
	"io"
)

// requestTap mirrors a request body into the capture as the base transport
// reads it.
type requestTap struct {
	rc  io.ReadCloser
	c   *capture
	gen int
}

func (t *requestTap) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 || errors.Is(err, io.EOF) {
		t.c.guard(func() { t.c.recordRequest(t.gen, p[:n], errors.Is(err, io.EOF)) })
	}
	return n, err
}

func (t *requestTap) Close() error {
	err := t.rc.Close()
	t.c.guard(func() { t.c.closeRequest(t.gen) })
	return err
}

// responseTap mirrors a response body into the capture as the caller reads
// it. The capture lock is never held across the underlying Read.
type responseTap struct {
	rc io.ReadCloser
	c  *capture
}

func (t *responseTap) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	t.c.guard(func() {
		if n > 0 {
			t.c.recordResponse(p[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			t.c.responseEOF()
		default:
			t.c.responseFailed(err)
		}
	})
	return n, err
}

func (t *responseTap) Close() error {
	err := t.rc.Close()
	t.c.guard(t.c.responseClosed)
	return err
}
