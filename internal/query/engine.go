// Package query executes SQL against one namespace of a sqld server over the
// Hrana-over-HTTP v2 pipeline protocol and normalizes the results.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sipico/sqld-gateway/internal/credential"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/router"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/storage"
)

const pipelinePath = "/v2/pipeline"

// HeaderFactory produces auth headers for a credential on a plane.
type HeaderFactory interface {
	Headers(plane credential.Plane, c credential.Credential) (http.Header, error)
}

// Engine runs statements against sqld data planes. It holds no per-server
// state; every call builds its own routed client on the shared pools.
type Engine struct {
	factory    HeaderFactory
	transports *sqld.Transports
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(factory HeaderFactory, transports *sqld.Transports, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{factory: factory, transports: transports, logger: logger}
}

// Execute runs st in namespace on srv. A single statement yields
// Outcome.Single; a batch runs in one write transaction and yields
// Outcome.Batch, index-aligned with the input. Any failure fails the whole
// call and no partial results are returned.
func (e *Engine) Execute(ctx context.Context, srv storage.DatabaseServer, namespace string, st Statement) (*Outcome, error) {
	if err := sqld.ValidateNamespaceName(namespace); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}

	base, err := pipelineBase(srv.NormalURL)
	if err != nil {
		return nil, err
	}

	client := e.client(srv, base, namespace)

	if st.IsBatch() {
		results, err := e.runBatch(ctx, client, base, st.SQL())
		if err != nil {
			return nil, err
		}
		return &Outcome{Batch: results}, nil
	}

	result, err := e.runSingle(ctx, client, base, st.SQL()[0])
	if err != nil {
		return nil, err
	}
	return &Outcome{Single: result}, nil
}

// client routes every request under base to namespace with fresh data-plane
// headers, then logs it on the server's TLS pool.
func (e *Engine) client(srv storage.DatabaseServer, base *url.URL, namespace string) *http.Client {
	auth := srv.NormalAuth
	rt := &router.Transport{
		Base:      base,
		Namespace: namespace,
		Auth: func(context.Context) (http.Header, error) {
			return e.factory.Headers(credential.PlaneData, auth)
		},
		Next: e.transports.Wrap(credential.PlaneData.String(), e.transports.RoundTripper(srv.InsecureTLS)),
	}
	return &http.Client{Transport: rt, Timeout: e.transports.Timeout()}
}

func (e *Engine) runSingle(ctx context.Context, client *http.Client, base *url.URL, sql string) (*Result, error) {
	resp, err := e.pipeline(ctx, client, base, pipelineRequest{Requests: []streamRequest{
		{Type: "execute", Stmt: &stmt{SQL: sql, WantRows: true}},
		{Type: "close"},
	}})
	if err != nil {
		return nil, err
	}

	first, err := firstResult(resp)
	if err != nil {
		return nil, err
	}

	var raw stmtResult
	if err := json.Unmarshal(first.Result, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed execute result: %v", errs.ErrRemoteRejected, err)
	}
	result, err := normalize(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRemoteRejected, err)
	}
	return &result, nil
}

// runBatch sends the statements as BEGIN IMMEDIATE, each statement guarded
// by the success of the previous step, COMMIT, and a ROLLBACK that runs
// when COMMIT did not succeed.
func (e *Engine) runBatch(ctx context.Context, client *http.Client, base *url.URL, sqls []string) ([]Result, error) {
	steps := make([]batchStep, 0, len(sqls)+3)
	steps = append(steps, batchStep{Stmt: stmt{SQL: "BEGIN IMMEDIATE"}})
	for i, sql := range sqls {
		steps = append(steps, batchStep{Condition: stepOK(i), Stmt: stmt{SQL: sql, WantRows: true}})
	}
	commit := len(steps)
	steps = append(steps, batchStep{Condition: stepOK(commit - 1), Stmt: stmt{SQL: "COMMIT"}})
	steps = append(steps, batchStep{Condition: not(stepOK(commit)), Stmt: stmt{SQL: "ROLLBACK"}})

	resp, err := e.pipeline(ctx, client, base, pipelineRequest{Requests: []streamRequest{
		{Type: "batch", Batch: &batch{Steps: steps}},
		{Type: "close"},
	}})
	if err != nil {
		return nil, err
	}

	first, err := firstResult(resp)
	if err != nil {
		return nil, err
	}

	var raw batchResult
	if err := json.Unmarshal(first.Result, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed batch result: %v", errs.ErrRemoteRejected, err)
	}

	// The first reported error is the one that aborted the transaction.
	for _, stepErr := range raw.StepErrors {
		if stepErr != nil {
			return nil, &errs.RemoteError{Kind: errs.ErrRemoteRejected, Message: stepErr.Message}
		}
	}

	results := make([]Result, len(sqls))
	for i := range sqls {
		step := i + 1
		if step >= len(raw.StepResults) || raw.StepResults[step] == nil {
			return nil, &errs.RemoteError{Kind: errs.ErrRemoteRejected, Message: fmt.Sprintf("batch statement %d was not executed", i)}
		}
		if results[i], err = normalize(raw.StepResults[step]); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrRemoteRejected, err)
		}
	}
	if commit >= len(raw.StepResults) || raw.StepResults[commit] == nil {
		return nil, &errs.RemoteError{Kind: errs.ErrRemoteRejected, Message: "batch transaction was not committed"}
	}
	return results, nil
}

// pipeline posts one pipeline request and decodes the response.
func (e *Engine) pipeline(ctx context.Context, client *http.Client, base *url.URL, body pipelineRequest) (*pipelineResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline request: %w", err)
	}

	endpoint := strings.TrimRight(base.String(), "/") + pipelinePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Invalid("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// signing and credential failures surface unchanged
		if errs.Kind(err) != nil {
			return nil, err
		}
		if ctx.Err() == nil {
			e.logger.Debug("pipeline request failed", "url", endpoint, "error", err)
		}
		return nil, errs.Unreachable(err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Unreachable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := errs.ErrRemoteRejected
		if resp.StatusCode == http.StatusNotFound {
			kind = errs.ErrNotFound
		}
		return nil, &errs.RemoteError{Kind: kind, StatusCode: resp.StatusCode, Message: sqld.ErrorMessage(data)}
	}

	var out pipelineResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed pipeline response: %v", errs.ErrRemoteRejected, err)
	}
	return &out, nil
}

// firstResult returns the response of the first stream request, turning a
// stream-level error into a RemoteError.
func firstResult(resp *pipelineResponse) (*streamResponse, error) {
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: empty pipeline response", errs.ErrRemoteRejected)
	}
	first := resp.Results[0]
	switch first.Type {
	case "ok":
		if first.Response == nil {
			return nil, fmt.Errorf("%w: pipeline result without response", errs.ErrRemoteRejected)
		}
		return first.Response, nil
	case "error":
		msg := "remote execution failed"
		if first.Error != nil && first.Error.Message != "" {
			msg = first.Error.Message
		}
		return nil, &errs.RemoteError{Kind: errs.ErrRemoteRejected, Message: msg}
	default:
		return nil, fmt.Errorf("%w: unexpected pipeline result type %q", errs.ErrRemoteRejected, first.Type)
	}
}

// pipelineBase parses a data-plane URL. libsql:// and ws(s):// URLs map
// to their HTTP equivalents.
func pipelineBase(normalURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(normalURL, "/"))
	if err != nil {
		return nil, errs.Invalid("invalid data-plane URL %q: %v", normalURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "libsql", "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	default:
		return nil, errs.Invalid("unsupported data-plane URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errs.Invalid("data-plane URL %q has no host", normalURL)
	}
	return u, nil
}
