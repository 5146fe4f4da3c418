package picocash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Sentinel response codes for transport-level failures. The contract is
// code < 0 ⇔ Response.Error is non-empty.
const (
	// CodeRecoverableError means the request could not complete for a
	// transient reason (connectivity, timeout) and may be retried.
	CodeRecoverableError = -1
	// CodeCriticalError means the transport hit an unrecoverable or
	// programming fault.
	CodeCriticalError = -2
)

// Request describes one HTTP call the engine asks the transport
// collaborator to perform.
type Request struct {
	Method   string
	Scheme   string
	Hostname string
	Port     int
	Path     string
	Headers  http.Header
	Query    url.Values
	Body     []byte
}

// URL assembles the request target. Default ports for the scheme are
// elided.
func (r *Request) URL() string {
	host := r.Hostname
	if r.Port != 0 && !isDefaultPort(r.Scheme, r.Port) {
		host = fmt.Sprintf("%s:%d", r.Hostname, r.Port)
	}
	u := url.URL{Scheme: r.Scheme, Host: host, Path: r.Path}
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}
	return u.String()
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "https" && port == 443) || (scheme == "http" && port == 80)
}

// Response is what the transport collaborator returns. Code is a
// positive HTTP status on completion, or one of the sentinel negative
// codes with Error set.
type Response struct {
	Code    int
	Body    []byte
	Headers http.Header
	Error   string
}

// RequesterFunc is the synchronous transport collaborator supplied by
// the application. It must honor ctx cancellation and must never retry
// internally; retry policy belongs to the engine's caller.
type RequesterFunc func(ctx context.Context, req *Request) Response

// NewHTTPRequester adapts a *net/http.Client to the RequesterFunc
// contract. Passing nil uses http.DefaultClient.
func NewHTTPRequester(hc *http.Client) RequesterFunc {
	if hc == nil {
		hc = http.DefaultClient
	}
	return func(ctx context.Context, req *Request) Response {
		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), body)
		if err != nil {
			return Response{Code: CodeCriticalError, Error: err.Error()}
		}
		for k, vs := range req.Headers {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := hc.Do(httpReq)
		if err != nil {
			return Response{Code: CodeRecoverableError, Error: err.Error()}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return Response{Code: CodeRecoverableError, Error: err.Error()}
		}
		return Response{Code: resp.StatusCode, Body: respBody, Headers: resp.Header}
	}
}
