package marketing

import "net/http"

// UsageHeader is the response header carrying per-account quota usage. Its
// value is a JSON object keyed by account id, each mapping to a one-element
// list of usage records.
const UsageHeader = "X-Business-Use-Case-Usage"

// Response is the normalized result of one physical HTTP call to the
// platform. It is returned even when the call produced an API error so the
// caller can still harvest the usage header.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Usage returns the raw quota-usage header value, empty when the platform
// did not report usage on this response.
func (r *Response) Usage() string {
	if r == nil {
		return ""
	}
	return r.Headers.Get(UsageHeader)
}

// ErrorDetail is the platform's embedded error object.
type ErrorDetail struct {
	Message     string `json:"message"`
	Type        string `json:"type"`
	Code        int    `json:"code"`
	Subcode     int    `json:"error_subcode"`
	IsTransient bool   `json:"is_transient"`
}

// BatchResult is the normalized outcome of one logical operation inside a
// batch request. Success requires a 2xx status code, no embedded error
// object, and a status code at all: an absent code means the platform timed
// the operation out, which is reported distinctly because the write may or
// may not have been applied.
type BatchResult struct {
	Index      int
	StatusCode int
	Success    bool
	Body       string
	Error      *ErrorDetail
	TimedOut   bool
}
