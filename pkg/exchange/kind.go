package exchange

import (
	"mime"
	"strings"
)

// Kind is a coarse classification of a response body, derived from its
// Content-Type.
type Kind string

// Kinds.
const (
	KindJSON  Kind = "json"
	KindXML   Kind = "xml"
	KindHTML  Kind = "html"
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindOther Kind = "other"
)

// Kinds lists every Kind in display order.
var Kinds = []Kind{KindJSON, KindXML, KindHTML, KindImage, KindText, KindOther}

var kindByMediaType = map[string]Kind{
	"application/json":                  KindJSON,
	"application/ld+json":               KindJSON,
	"application/x-ndjson":              KindJSON,
	"text/json":                         KindJSON,
	"application/xml":                   KindXML,
	"text/xml":                          KindXML,
	"application/xhtml+xml":             KindHTML,
	"text/html":                         KindHTML,
	"application/javascript":            KindText,
	"application/x-www-form-urlencoded": KindText,
}

var kindBySuffix = map[string]Kind{
	"+json": KindJSON,
	"+xml":  KindXML,
}

var kindByTopLevel = map[string]Kind{
	"image": KindImage,
	"text":  KindText,
}

// KindOf classifies a Content-Type header value.
func KindOf(contentType string) Kind {
	if contentType == "" {
		return KindOther
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	if k, ok := kindByMediaType[mt]; ok {
		return k
	}
	for suffix, k := range kindBySuffix {
		if strings.HasSuffix(mt, suffix) {
			return k
		}
	}
	if top, _, ok := strings.Cut(mt, "/"); ok {
		if k, ok := kindByTopLevel[top]; ok {
			return k
		}
	}
	return KindOther
}
