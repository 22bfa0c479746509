package exchange

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// MaxDecodedSize caps the output of content decoding.
const MaxDecodedSize = 64 << 20

// Decoding errors.
var (
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	ErrDecodedTooLarge     = errors.New("decoded body exceeds limit")
)

// DecodeBody returns b's data with every Content-Encoding in h undone and,
// for textual kinds, transcoded to UTF-8. A truncated body can usually not be
// decompressed; the returned error says so.
func DecodeBody(b *Body, h http.Header) ([]byte, error) {
	if b == nil || len(b.Data) == 0 {
		return []byte{}, nil
	}

	data, err := decompress(b.Data, h.Values("Content-Encoding"))
	if err != nil {
		if b.Truncated || b.Incomplete {
			return nil, fmt.Errorf("partial body: %w", err)
		}
		return nil, err
	}

	ct := h.Get("Content-Type")
	switch KindOf(ct) {
	case KindJSON, KindXML, KindHTML, KindText:
		return toUTF8(data, ct)
	default:
		return data, nil
	}
}

// DecodedBody decodes the request body using the request headers.
func (r *Request) DecodedBody() ([]byte, error) {
	return DecodeBody(r.Body, r.Headers)
}

// DecodedBody decodes the response body using the response headers.
func (r *Response) DecodedBody() ([]byte, error) {
	return DecodeBody(r.Body, r.Headers)
}

func decompress(data []byte, values []string) ([]byte, error) {
	var codings []string
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}

	// Codings are listed in the order they were applied.
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		data, err = decodeOne(codings[i], data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", codings[i], err)
		}
	}
	return data, nil
}

func decodeOne(coding string, data []byte) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readLimited(r)
	case "deflate":
		// Most servers send zlib-wrapped deflate; some send it raw.
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer r.Close()
			return readLimited(r)
		}
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return readLimited(r)
	case "zstd":
		d, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, coding)
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecodedSize {
		return nil, ErrDecodedTooLarge
	}
	return out, nil
}

func toUTF8(data []byte, contentType string) ([]byte, error) {
	enc, name, certain := charset.DetermineEncoding(data, contentType)
	if name == "utf-8" || enc == nil {
		return data, nil
	}
	if !certain && utf8.Valid(data) {
		return data, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("transcode %s: %w", name, err)
	}
	return out, nil
}
