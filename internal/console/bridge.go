// Package console bridges an embedded SQL console to the query engine.
//
// The console posts {type, id, statement(s)} messages and waits for a reply
// with the same type and id carrying either data or error. Requests are
// dispatched concurrently; correlation is by id only, so replies may arrive
// in any order.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/sipico/sqld-gateway/internal/metrics"
	"github.com/sipico/sqld-gateway/internal/query"
)

// Message types.
const (
	TypeQuery       = "query"
	TypeTransaction = "transaction"
)

// Request is a message from the console.
type Request struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	Statement  json.RawMessage `json:"statement,omitempty"`
	Statements json.RawMessage `json:"statements,omitempty"`
}

// Response answers one Request. Exactly one of Data and Error is set.
type Response struct {
	Type  string          `json:"type"`
	ID    json.RawMessage `json:"id"`
	Data  *query.Outcome  `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Executor runs a statement for the namespace the console is bound to.
type Executor interface {
	Execute(ctx context.Context, st query.Statement) (*query.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, st query.Statement) (*query.Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, st query.Statement) (*query.Outcome, error) {
	return f(ctx, st)
}

// Channel carries raw messages between the host and the console.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
}

// Bridge answers console requests.
type Bridge struct {
	exec   Executor
	logger *slog.Logger
}

// NewBridge creates a Bridge that runs statements with exec.
func NewBridge(exec Executor, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{exec: exec, logger: logger}
}

// Handle answers one raw message. ok is false when the message gets no
// reply: it is not JSON, has an unknown type, or carries no id.
func (b *Bridge) Handle(ctx context.Context, raw []byte) (resp *Response, ok bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		b.logger.Debug("dropping malformed console message", "error", err)
		return nil, false
	}
	if req.Type != TypeQuery && req.Type != TypeTransaction {
		return nil, false
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		b.logger.Debug("dropping console message without id", "type", req.Type)
		return nil, false
	}

	resp = &Response{Type: req.Type, ID: req.ID}
	st, err := req.statement()
	if err == nil {
		resp.Data, err = b.exec.Execute(ctx, st)
	}
	if err == nil && resp.Data == nil {
		err = errors.New("query returned no result")
	}
	if err != nil {
		resp.Data = nil
		resp.Error = err.Error()
		if resp.Error == "" {
			resp.Error = "query failed"
		}
		metrics.RecordConsoleMessage("error")
		return resp, true
	}
	metrics.RecordConsoleMessage("ok")
	return resp, true
}

// statement decodes the statement field matching the request type.
func (r Request) statement() (query.Statement, error) {
	var st query.Statement
	switch r.Type {
	case TypeQuery:
		var sql string
		if err := json.Unmarshal(orNull(r.Statement), &sql); err != nil || sql == "" {
			return st, errors.New("query message requires a statement string")
		}
		st = query.Single(sql)
	default:
		var sqls []string
		if err := json.Unmarshal(orNull(r.Statements), &sqls); err != nil || len(sqls) == 0 {
			return st, errors.New("transaction message requires a non-empty statements array")
		}
		st = query.Batch(sqls...)
	}
	return st, st.Validate()
}

// encode marshals resp, replacing it with an error reply when the result
// cannot be encoded.
func (b *Bridge) encode(resp *Response) []byte {
	out, err := json.Marshal(resp)
	if err == nil {
		return out
	}
	b.logger.Error("failed to encode console response", "error", err)
	out, _ = json.Marshal(Response{Type: resp.Type, ID: resp.ID, Error: "failed to encode result: " + err.Error()})
	return out
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// Serve reads messages from ch until it fails or ctx ends, answering each
// one on its own goroutine. Writes to ch are serialized. In-flight requests
// are cancelled when reading stops, and Serve waits for them before
// returning the read error.
func (b *Bridge) Serve(ctx context.Context, ch Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	defer wg.Wait()

	for {
		raw, err := ch.Read(ctx)
		if err != nil {
			cancel()
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, ok := b.Handle(ctx, raw)
			if !ok {
				return
			}
			out := b.encode(resp)
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := ch.Write(ctx, out); err != nil && ctx.Err() == nil {
				b.logger.Warn("failed to send console response", "error", err)
			}
		}()
	}
}
