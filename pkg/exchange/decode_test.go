package exchange

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func gzipBytes(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, p []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(p, nil)
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestDecodeBody_ContentEncoding(t *testing.T) {
	t.Parallel()

	plain := []byte(`{"message":"hello, world"}`)

	tests := []struct {
		name     string
		data     []byte
		encoding string
	}{
		{"identity", plain, ""},
		{"gzip", gzipBytes(t, plain), "gzip"},
		{"zlib deflate", zlibBytes(t, plain), "deflate"},
		{"raw deflate", rawDeflateBytes(t, plain), "deflate"},
		{"zstd", zstdBytes(t, plain), "zstd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := headers("Content-Type", "application/json")
			if tt.encoding != "" {
				h.Set("Content-Encoding", tt.encoding)
			}
			got, err := DecodeBody(&Body{Data: tt.data, Size: int64(len(tt.data))}, h)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}
}

func TestDecodeBody_StackedEncodings(t *testing.T) {
	t.Parallel()

	plain := []byte("stacked")
	data := zstdBytes(t, gzipBytes(t, plain))

	got, err := DecodeBody(&Body{Data: data}, headers("Content-Encoding", "gzip, zstd"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecodeBody_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := DecodeBody(&Body{Data: []byte{1, 2, 3}}, headers("Content-Encoding", "br"))
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestDecodeBody_TruncatedGzip(t *testing.T) {
	t.Parallel()

	data := gzipBytes(t, bytes.Repeat([]byte("abcdefgh"), 1024))
	body := &Body{Data: data[:len(data)/2], Size: int64(len(data)), Truncated: true}

	_, err := DecodeBody(body, headers("Content-Encoding", "gzip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial body")
}

func TestDecodeBody_Charset(t *testing.T) {
	t.Parallel()

	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("café"))
	require.NoError(t, err)

	got, err := DecodeBody(&Body{Data: latin1}, headers("Content-Type", "text/plain; charset=iso-8859-1"))
	require.NoError(t, err)
	assert.Equal(t, "café", string(got))
}

func TestDecodeBody_BinaryUntouched(t *testing.T) {
	t.Parallel()

	png := []byte{0x89, 'P', 'N', 'G', 0xff, 0xfe}
	got, err := DecodeBody(&Body{Data: png}, headers("Content-Type", "image/png"))
	require.NoError(t, err)
	assert.Equal(t, png, got)
}

func TestDecodeBody_Empty(t *testing.T) {
	t.Parallel()

	got, err := DecodeBody(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestResponse_DecodedBody(t *testing.T) {
	t.Parallel()

	r := &Response{
		Headers: headers("Content-Type", "text/plain", "Content-Encoding", "gzip"),
		Body:    &Body{Data: gzipBytes(t, []byte("hi"))},
	}
	got, err := r.DecodedBody()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestRequest_DecodedBody(t *testing.T) {
	t.Parallel()

	r := &Request{
		Headers: headers("Content-Type", "application/json", "Content-Encoding", "gzip"),
		Body:    &Body{Data: gzipBytes(t, []byte(`{"a":1}`))},
	}
	got, err := r.DecodedBody()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	none := &Request{}
	got, err = none.DecodedBody()
	require.NoError(t, err)
	assert.Empty(t, got)
}
