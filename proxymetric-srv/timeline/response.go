// Package timeline holds captured HTTP responses as immutable records and
// loads them from capture files.
package timeline

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Response is one captured HTTP response. It is immutable once built by
// NewResponse; accessors hand out copies.
type Response struct {
	url             string
	status          int
	headers         map[string]string
	names           map[string]string
	body            []byte
	base64Body      bool
	servedFromCache bool
}

// Option customises a Response under construction.
type Option func(*Response)

// WithStatus sets the HTTP status code. The default is 200.
func WithStatus(status int) Option {
	return func(r *Response) { r.status = status }
}

// WithBase64Body marks the body as base64 encoded, as devtools does for
// binary payloads.
func WithBase64Body() Option {
	return func(r *Response) { r.base64Body = true }
}

// WithServedFromCache marks the response as a browser cache hit.
func WithServedFromCache() Option {
	return func(r *Response) { r.servedFromCache = true }
}

// NewResponse builds a response record. Header names are matched case
// insensitively; when two names collide the later one in sorted order wins.
func NewResponse(rawURL string, headers map[string]string, body []byte, opts ...Option) *Response {
	r := &Response{
		url:     rawURL,
		status:  200,
		headers: make(map[string]string, len(headers)),
		names:   make(map[string]string, len(headers)),
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		r.headers[lk] = headers[k]
		r.names[lk] = k
	}

	if body != nil {
		r.body = append([]byte(nil), body...)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URL returns the request URL.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code.
func (r *Response) Status() int { return r.status }

// ServedFromCache reports whether the browser served the response from cache.
func (r *Response) ServedFromCache() bool { return r.servedFromCache }

// Base64Encoded reports whether Body is base64 text.
func (r *Response) Base64Encoded() bool { return r.base64Body }

// Scheme returns the lower-cased URL scheme, or "" if the URL does not parse.
func (r *Response) Scheme() string {
	u, err := url.Parse(r.url)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Host returns the URL host without port, or "" if the URL does not parse.
func (r *Response) Host() string {
	u, err := url.Parse(r.url)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Header returns the value of the named header, matched case insensitively.
func (r *Response) Header(name string) string {
	return r.headers[strings.ToLower(name)]
}

// HasHeader reports whether the named header is present at all.
func (r *Response) HasHeader(name string) bool {
	_, ok := r.headers[strings.ToLower(name)]
	return ok
}

// HasHeaders reports whether the record carries any header.
func (r *Response) HasHeaders() bool { return len(r.headers) > 0 }

// Headers returns a copy of the headers under their original names.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for lk, v := range r.headers {
		out[r.names[lk]] = v
	}
	return out
}

// Body returns a copy of the raw body as captured.
func (r *Response) Body() []byte {
	return append([]byte(nil), r.body...)
}

// DecodedBody returns the body bytes, base64 decoded when needed.
func (r *Response) DecodedBody() ([]byte, error) {
	if !r.base64Body {
		return r.Body(), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(r.body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 body of %s: %w", r.url, err)
	}
	return decoded, nil
}

func (r *Response) String() string {
	return fmt.Sprintf("%s (status=%d, cache=%t)", r.url, r.status, r.servedFromCache)
}
