package forwarder

import (
	"mime"
	"net/http"
	"strings"

	"github.com/nulzo/bot-router/internal/vendor"
)

// stripped from the caller's request before it goes upstream
var requestSkip = map[string]struct{}{
	"Host":                {},
	"Connection":          {},
	"Authorization":       {},
	"Content-Length":      {},
	"Accept-Encoding":     {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"X-Api-Key":           {},
	"X-Goog-Api-Key":      {},
	"Api-Key":             {},
	"X-Bot-Token":         {},
}

var responseSkip = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// RewriteHeaders returns the outbound header set: caller headers minus hop by
// hop and credential headers, plus the vendor's auth header and any vendor
// default header the caller did not set.
func RewriteHeaders(in http.Header, vc vendor.Config, secret string) http.Header {
	out := make(http.Header, len(in)+2)
	connectionTokens := connectionHeaders(in)

	for k, values := range in {
		canonical := http.CanonicalHeaderKey(k)
		if _, skip := requestSkip[canonical]; skip {
			continue
		}
		if _, skip := connectionTokens[canonical]; skip {
			continue
		}
		for _, v := range values {
			out.Add(canonical, v)
		}
	}

	out.Set(vc.AuthHeader, vc.AuthValue(secret))

	for k, v := range vc.DefaultHeaders {
		if out.Get(k) == "" {
			out.Set(k, v)
		}
	}
	return out
}

// headers named in Connection are hop by hop as well
func connectionHeaders(h http.Header) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tokens[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}
	return tokens
}

func copyResponseHeaders(dst, src http.Header) {
	for k, values := range src {
		canonical := http.CanonicalHeaderKey(k)
		if _, skip := responseSkip[canonical]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(canonical, v)
		}
	}
}

func isEventStream(h http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}
