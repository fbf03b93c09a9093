package upstream

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// hop-by-hop headers per RFC 2616 section 13.5.1; connection-specific,
// never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHopHeader(header string) bool {
	return slices.ContainsFunc(hopByHopHeaders, func(h string) bool {
		return strings.EqualFold(h, header)
	})
}

// copyRequestHeaders forwards downstream headers to the upstream request,
// dropping hop-by-hop headers and any credentials the client sent. The
// proxy's own credential is injected afterwards; the client's must never
// leak upstream.
func copyRequestHeaders(dst http.Header, src http.Header) {
	for header, values := range src {
		if isHopByHopHeader(header) {
			continue
		}
		switch http.CanonicalHeaderKey(header) {
		case "Authorization", "Cookie", "X-Api-Key", "X-Auth-Token", "Proxy-Authorization", "Host", "Content-Length":
			continue
		}
		dst[http.CanonicalHeaderKey(header)] = values
	}
}

// copyResponseHeaders forwards upstream response headers downstream, minus
// hop-by-hop headers and the upstream's rate-limit internals.
func copyResponseHeaders(dst http.Header, src http.Header) {
	for header, values := range src {
		if isHopByHopHeader(header) {
			continue
		}
		dst[header] = values
	}
}

// extractRateLimitHeaders reads the upstream's rate-limit headers. Absent
// numeric headers come back as -1 so zero remains a meaningful value.
func extractRateLimitHeaders(h http.Header) domain.RateLimitHeaders {
	out := domain.NoRateLimitHeaders

	if v := h.Get(constants.HeaderRateLimitRemain); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.Remaining = n
		}
	}
	if v := h.Get(constants.HeaderRateLimitLimit); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.Limit = n
		}
	}
	if v := h.Get(constants.HeaderRateLimitReset); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.Reset = n
		}
	}
	if v := h.Get(constants.HeaderRetryAfter); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			out.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				out.RetryAfter = d
			}
		}
	}
	return out
}
