package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures the last request it was asked to send.
type recordingTransport struct {
	mu   sync.Mutex
	req  *http.Request
	body []byte
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	rt.mu.Lock()
	rt.req = req
	rt.body = body
	rt.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestRewrite_GetReplacesAuthorization(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://db.example.com/v2", nil)
	req.Header.Set("Authorization", "Basic stale")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Referer", "https://console.example.com/")

	auth := http.Header{"Authorization": []string{"Bearer fresh"}}
	out, err := Rewrite(req, "tenant-7", auth)
	require.NoError(t, err)

	assert.Equal(t, "tenant-7", out.Header.Get(NamespaceHeader))
	assert.Equal(t, []string{"Bearer fresh"}, out.Header.Values("Authorization"))
	assert.Equal(t, http.MethodGet, out.Method)
	assert.Equal(t, req.URL.String(), out.URL.String())
	assert.Equal(t, "application/json", out.Header.Get("Accept"))
	assert.Equal(t, "no-cache", out.Header.Get("Cache-Control"))
	assert.Equal(t, "https://console.example.com/", out.Header.Get("Referer"))
	assert.Equal(t, http.NoBody, out.Body)

	// the input request is not mutated
	assert.Equal(t, "Basic stale", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get(NamespaceHeader))
}

func TestRewrite_PreservesBodyAndContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	payload := `{"requests":[{"type":"close"}]}`

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://db.example.com/v2/pipeline", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	out, err := Rewrite(req, "ns", nil)
	require.NoError(t, err)

	got, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.EqualValues(t, len(payload), out.ContentLength)
	assert.Equal(t, "v", out.Context().Value(ctxKey{}))
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))

	// replayable
	require.NotNil(t, out.GetBody)
	rc, err := out.GetBody()
	require.NoError(t, err)
	again, _ := io.ReadAll(rc)
	assert.Equal(t, payload, string(again))

	// original body still readable
	orig, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(orig))
}

func TestRewrite_BodyWithoutGetBody(t *testing.T) {
	body := &trackingBody{Reader: bytes.NewBufferString("abc")}
	req, err := http.NewRequest(http.MethodPost, "https://db.example.com/v2/pipeline", body)
	require.NoError(t, err)
	req.GetBody = nil

	out, err := Rewrite(req, "ns", nil)
	require.NoError(t, err)

	got, _ := io.ReadAll(out.Body)
	assert.Equal(t, "abc", string(got))
	require.NotNil(t, out.GetBody)
	rc, err := out.GetBody()
	require.NoError(t, err)
	replay, _ := io.ReadAll(rc)
	assert.Equal(t, "abc", string(replay))

	assert.Same(t, body, req.Body, "the caller's Body field is not replaced")
	assert.Nil(t, req.GetBody)
	assert.True(t, body.closed, "the consumed body is closed")
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestRewrite_Idempotent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://db.example.com/", nil)
	auth := http.Header{"Authorization": []string{"Basic t"}}

	once, err := Rewrite(req, "a", auth)
	require.NoError(t, err)
	twice, err := Rewrite(once, "a", auth)
	require.NoError(t, err)
	assert.Equal(t, once.Header, twice.Header)

	other, err := Rewrite(once, "b", auth)
	require.NoError(t, err)
	assert.Equal(t, "b", other.Header.Get(NamespaceHeader))
}

func TestTransport_RoutesOnlyBaseURL(t *testing.T) {
	base, _ := url.Parse("https://db.example.com/prefix")
	rec := &recordingTransport{}
	tr := &Transport{
		Base:      base,
		Namespace: "tenant",
		Auth:      StaticHeaders(http.Header{"Authorization": []string{"Basic x"}}),
		Next:      rec,
	}
	client := &http.Client{Transport: tr}

	resp, err := client.Post("https://db.example.com/prefix/v2/pipeline", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "tenant", rec.req.Header.Get(NamespaceHeader))
	assert.Equal(t, "Basic x", rec.req.Header.Get("Authorization"))
	assert.Equal(t, "{}", string(rec.body))

	resp, err = client.Get("https://other.example.com/prefix/v2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, rec.req.Header.Get(NamespaceHeader))

	resp, err = client.Get("https://db.example.com/prefixed")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, rec.req.Header.Get(NamespaceHeader))
}

func TestTransport_FreshHeadersPerRequest(t *testing.T) {
	rec := &recordingTransport{}
	n := 0
	tr := &Transport{
		Namespace: "ns",
		Auth: func(context.Context) (http.Header, error) {
			n++
			return http.Header{"Authorization": []string{"Bearer " + strings.Repeat("x", n)}}, nil
		},
		Next: rec,
	}
	client := &http.Client{Transport: tr}

	for i := 1; i <= 3; i++ {
		resp, err := client.Get("https://db.example.com/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "Bearer "+strings.Repeat("x", i), rec.req.Header.Get("Authorization"))
	}
}

func TestTransport_AuthError(t *testing.T) {
	tr := &Transport{
		Namespace: "ns",
		Auth: func(context.Context) (http.Header, error) {
			return nil, errors.New("no key")
		},
		Next: &recordingTransport{},
	}
	req := httptest.NewRequest(http.MethodGet, "https://db.example.com/", nil)
	_, err := tr.RoundTrip(req)
	assert.EqualError(t, err, "no key")
}

func TestTransport_AgainstServer(t *testing.T) {
	var gotNS, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNS = r.Header.Get("X-Namespace")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: &Transport{
		Base:      base,
		Namespace: "sales",
		Auth:      StaticHeaders(http.Header{"Authorization": []string{"Basic s3cr3t"}}),
	}}

	resp, err := client.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "sales", gotNS)
	assert.Equal(t, "Basic s3cr3t", gotAuth)
}
