// Package router presents one physical sqld data-plane endpoint as many
// namespace-scoped endpoints by rewriting outgoing requests.
package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// NamespaceHeader selects the target namespace on sqld.
const NamespaceHeader = "x-namespace"

// HeaderSource produces auth headers for one outgoing request.
type HeaderSource func(ctx context.Context) (http.Header, error)

// StaticHeaders returns a HeaderSource that always yields h.
func StaticHeaders(h http.Header) HeaderSource {
	return func(context.Context) (http.Header, error) {
		return h, nil
	}
}

// Rewrite returns a copy of req targeting namespace, with auth merged into
// its headers. Existing values of every header named in auth are replaced.
// Everything else (method, URL, body, context, Host, trailers, all other
// headers) is carried over. No field of req is modified.
//
// GET and HEAD requests are sent without a body. For other methods the body
// is buffered so the returned request can be replayed through GetBody. When
// req has no GetBody its Body is read to the end and closed, leaving it
// consumed.
func Rewrite(req *http.Request, namespace string, auth http.Header) (*http.Request, error) {
	out := req.Clone(req.Context())

	out.Header.Set(NamespaceHeader, namespace)
	for name, values := range auth {
		out.Header.Del(name)
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}

	if !carriesBody(req.Method) {
		out.Body = http.NoBody
		out.GetBody = nil
		out.ContentLength = 0
		return out, nil
	}

	body, err := bodyCopy(req)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return out, nil
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return out, nil
}

func carriesBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// bodyCopy returns the request body. Requests built with a replayable body
// are read through GetBody; otherwise req.Body is drained and closed.
func bodyCopy(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close() //nolint:errcheck
	return data, nil
}

// Transport is an http.RoundTripper that routes every request under Base
// to Namespace with headers from Auth. Requests to other URLs pass through
// unchanged. Transport has no retry or pooling logic of its own.
type Transport struct {
	Base      *url.URL
	Namespace string
	Auth      HeaderSource
	Next      http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.routes(req.URL) {
		return t.next().RoundTrip(req)
	}

	var auth http.Header
	if t.Auth != nil {
		h, err := t.Auth(req.Context())
		if err != nil {
			closeBody(req)
			return nil, err
		}
		auth = h
	}

	out, err := Rewrite(req, t.Namespace, auth)
	closeBody(req)
	if err != nil {
		return nil, err
	}
	return t.next().RoundTrip(out)
}

// routes reports whether u is under the data-plane base URL.
func (t *Transport) routes(u *url.URL) bool {
	if t.Base == nil {
		return true
	}
	if !strings.EqualFold(u.Scheme, t.Base.Scheme) || !strings.EqualFold(u.Host, t.Base.Host) {
		return false
	}
	prefix := strings.TrimRight(t.Base.Path, "/")
	return prefix == "" || u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}

func (t *Transport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close() //nolint:errcheck
	}
}
