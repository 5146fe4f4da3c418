package picocash

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/picocash/picocash/internal/api"
	"github.com/picocash/picocash/internal/repositories/metadata"
)

// makeRequest performs one server call through the configured Requester.
// It performs exactly one attempt; retry policy belongs to the caller.
// The returned Response always has Code >= 0: transport-level failures
// (negative sentinel codes, contract violations, timeouts) come back as
// an error instead.
func (c *Client) makeRequest(ctx context.Context, method, path string, query url.Values, body []byte, includeTokens bool) (*Response, error) {
	if c.cfg.Requester == nil {
		return nil, newError("no requester configured")
	}

	headers, err := c.requestHeaders(ctx, len(body) > 0, includeTokens)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:   method,
		Scheme:   c.cfg.ServerScheme,
		Hostname: c.cfg.ServerHostname,
		Port:     c.cfg.ServerPort,
		Path:     path,
		Headers:  headers,
		Query:    query,
		Body:     body,
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	resp := c.cfg.Requester(ctx, req)

	switch {
	case resp.Code >= 0 && resp.Error != "":
		return nil, newCriticalError("requester contract violation: code %d with error %q", resp.Code, resp.Error)
	case resp.Code < 0 && resp.Error == "":
		return nil, newCriticalError("requester contract violation: code %d with empty error", resp.Code)
	case resp.Code == CodeCriticalError:
		return nil, newCriticalError("request failed: %s", resp.Error)
	case resp.Code < 0:
		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return nil, wrapError(err, "request timed out")
		}
		return nil, newError("request failed: %s", resp.Error)
	}

	c.log.Debug(ctx, "server request complete", "method", method, "path", path, "code", resp.Code)
	return &resp, nil
}

func (c *Client) requestHeaders(ctx context.Context, hasBody, includeTokens bool) (http.Header, error) {
	r := c.repos()

	headers := http.Header{}
	headers.Set("User-Agent", c.cfg.UserAgent)
	if hasBody {
		headers.Set("Content-Type", "application/json")
	}

	md, err := c.requestMetadata(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := md.Encode()
	if err != nil {
		return nil, wrapCriticalError(err, "failed to encode request metadata")
	}
	headers.Set(api.MetadataHeader, encoded)

	if includeTokens {
		toks, err := r.tokens.GetAll(ctx)
		if err != nil {
			return nil, wrapCriticalError(err, "failed to read tokens")
		}
		var values []string
		for _, k := range tokenKindOrder {
			if v, ok := toks[string(k)]; ok {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			headers.Set(api.AuthHeader, strings.Join(values, ","))
		}
	}

	return headers, nil
}

func (c *Client) requestMetadata(ctx context.Context) (api.Metadata, error) {
	r := c.repos()
	md := api.Metadata{Version: 1, UserAgent: c.cfg.UserAgent}

	instanceID, err := r.meta.GetString(ctx, metadata.KeyInstanceID)
	if err != nil {
		return md, wrapCriticalError(err, "failed to read instance id")
	}
	md.InstanceID = instanceID

	locale, err := r.meta.GetString(ctx, metadata.KeyLocale)
	if err != nil {
		return md, wrapCriticalError(err, "failed to read locale")
	}
	md.Locale = locale

	attrs, err := getStringMap(ctx, r.meta, metadata.KeyRequestMetadata)
	if err != nil {
		return md, err
	}
	if len(attrs) > 0 {
		md.Attributes = attrs
	}

	return md, nil
}
