// Package har exports captured exchanges as HAR 1.2.
package har

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/url"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/getmockd/nettap/pkg/exchange"
)

// HAR is the root of a HAR document.
type HAR struct {
	Log Log `json:"log"`
}

// Log is the top-level log object.
type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

// Creator identifies the tool that created the file.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is one request/response pair. Fields prefixed with an underscore
// are nettap extensions.
type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
	Comment         string   `json:"comment,omitempty"`

	ID    string          `json:"_id"`
	State exchange.State  `json:"_state"`
	Error *exchange.Error `json:"_error,omitempty"`
}

// Request is the request portion of an entry.
type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []NameValue `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

// Response is the response portion of an entry.
type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []NameValue `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

// NameValue is a header, query parameter or cookie.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData is a request body.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
}

// Content is a response body.
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Timings are phase durations in milliseconds; -1 means not applicable.
type Timings struct {
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	SSL     float64 `json:"ssl"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Options controls Build.
type Options struct {
	CreatorName    string
	CreatorVersion string

	// IncludeInFlight also exports exchanges that are still pending or
	// capturing.
	IncludeInFlight bool
}

// Build converts exchanges to a HAR document, preserving their order.
func Build(exchanges []exchange.Exchange, opts Options) HAR {
	if opts.CreatorName == "" {
		opts.CreatorName = "nettap"
	}
	entries := make([]Entry, 0, len(exchanges))
	for i := range exchanges {
		ex := &exchanges[i]
		if !ex.IsTerminal() && !opts.IncludeInFlight {
			continue
		}
		entries = append(entries, buildEntry(ex))
	}
	return HAR{Log: Log{
		Version: "1.2",
		Creator: Creator{Name: opts.CreatorName, Version: opts.CreatorVersion},
		Entries: entries,
	}}
}

// Write encodes the HAR document for exchanges to w.
func Write(w io.Writer, exchanges []exchange.Exchange, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Build(exchanges, opts))
}

func buildEntry(ex *exchange.Exchange) Entry {
	e := Entry{
		StartedDateTime: ex.Request.SentAt.UTC().Format(time.RFC3339Nano),
		Time:            ms(ex.Duration),
		Request:         buildRequest(&ex.Request),
		Response:        buildResponse(ex.Response),
		Timings:         buildTimings(ex),
		ID:              ex.ID,
		State:           ex.State,
		Error:           ex.Err,
	}

	switch {
	case ex.Response != nil && ex.Response.Body != nil && ex.Response.Body.Truncated:
		e.Comment = "response body truncated"
	case ex.Response != nil && ex.Response.Body != nil && ex.Response.Body.Incomplete:
		e.Comment = "response body incomplete"
	}
	return e
}

func buildRequest(r *exchange.Request) Request {
	req := Request{
		Method:      r.Method,
		URL:         r.URL,
		HTTPVersion: protoOr(r.Proto),
		Cookies:     []NameValue{},
		Headers:     headers(r.Headers),
		QueryString: query(r.URL),
		HeadersSize: -1,
	}
	if r.Body != nil {
		req.BodySize = r.Body.Size
		if len(r.Body.Data) > 0 {
			text, enc := bodyText(r.Body.Data)
			req.PostData = &PostData{
				MimeType: r.Headers.Get("Content-Type"),
				Text:     text,
				Encoding: enc,
			}
		}
	}
	return req
}

func buildResponse(r *exchange.Response) Response {
	if r == nil {
		// HAR has no notion of a missing response; status 0 marks it.
		return Response{
			Cookies:     []NameValue{},
			Headers:     []NameValue{},
			HeadersSize: -1,
			BodySize:    -1,
		}
	}

	resp := Response{
		Status:      r.StatusCode,
		StatusText:  statusText(r.Status),
		HTTPVersion: protoOr(r.Proto),
		Cookies:     []NameValue{},
		Headers:     headers(r.Headers),
		RedirectURL: r.Headers.Get("Location"),
		HeadersSize: -1,
		BodySize:    -1,
		Content: Content{
			MimeType: r.Headers.Get("Content-Type"),
		},
	}
	if r.Body == nil {
		return resp
	}

	resp.BodySize = r.Body.Size
	resp.Content.Size = r.Body.Size
	data := r.Body.Data
	if decoded, err := r.DecodedBody(); err == nil {
		data = decoded
		resp.Content.Size = int64(len(decoded))
	}
	resp.Content.Text, resp.Content.Encoding = bodyText(data)
	return resp
}

func buildTimings(ex *exchange.Exchange) Timings {
	t := Timings{DNS: -1, Connect: -1, SSL: -1}
	if d := ex.Timings.DNS; d > 0 {
		t.DNS = ms(d)
	}
	if d := ex.Timings.Connect; d > 0 {
		t.Connect = ms(d)
	}
	if d := ex.Timings.TLS; d > 0 {
		t.SSL = ms(d)
	}
	t.Wait = ms(ex.Timings.TTFB)
	if ex.Response != nil && !ex.CompletedAt.IsZero() {
		if d := ex.CompletedAt.Sub(ex.Response.ReceivedAt); d > 0 {
			t.Receive = ms(d)
		}
	}
	return t
}

func headers(h map[string][]string) []NameValue {
	out := make([]NameValue, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, NameValue{Name: name, Value: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func query(raw string) []NameValue {
	out := []NameValue{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	return out
}

// bodyText returns data as HAR text, base64-encoding anything that is not
// valid UTF-8.
func bodyText(data []byte) (text, encoding string) {
	if utf8.Valid(data) {
		return string(data), ""
	}
	return base64.StdEncoding.EncodeToString(data), "base64"
}

func statusText(status string) string {
	// "200 OK" -> "OK"
	for i := 0; i < len(status); i++ {
		if status[i] == ' ' {
			return status[i+1:]
		}
	}
	return status
}

func protoOr(p string) string {
	if p == "" {
		return "HTTP/1.1"
	}
	return p
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
