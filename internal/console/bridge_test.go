package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe is an in-memory Channel. Read blocks until a message is queued or
// the pipe is closed.
type pipe struct {
	in  chan []byte
	out chan []byte
}

func newPipe() *pipe {
	return &pipe{in: make(chan []byte, 16), out: make(chan []byte, 16)}
}

func (p *pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Write(_ context.Context, msg []byte) error {
	p.out <- msg
	return nil
}

func (p *pipe) next(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	select {
	case msg := <-p.out:
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(msg, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func oneRow(sql string) *query.Outcome {
	return &query.Outcome{Single: &query.Result{
		Rows:    []query.Row{query.NewRow([]string{"1"}, []any{int64(1)})},
		Headers: []query.Header{{Name: "1", DisplayName: "1", Type: "text"}},
		Stat:    query.Stat{RowsRead: 1},
	}}
}

func echoExecutor() ExecutorFunc {
	return func(_ context.Context, st query.Statement) (*query.Outcome, error) {
		if st.IsBatch() {
			results := make([]query.Result, len(st.SQL()))
			return &query.Outcome{Batch: results}, nil
		}
		return oneRow(st.SQL()[0]), nil
	}
}

func TestHandle_QueryProducesOneResponse(t *testing.T) {
	b := NewBridge(echoExecutor(), nil)

	resp, ok := b.Handle(context.Background(), []byte(`{"type":"query","id":"abc","statement":"SELECT 1"}`))
	require.True(t, ok)
	assert.Equal(t, "query", resp.Type)
	assert.JSONEq(t, `"abc"`, string(resp.ID))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Error)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "data")
	assert.NotContains(t, m, "error")
}

func TestHandle_Transaction(t *testing.T) {
	var got query.Statement
	b := NewBridge(ExecutorFunc(func(_ context.Context, st query.Statement) (*query.Outcome, error) {
		got = st
		return &query.Outcome{Batch: []query.Result{{}, {}}}, nil
	}), nil)

	resp, ok := b.Handle(context.Background(),
		[]byte(`{"type":"transaction","id":7,"statements":["INSERT INTO t VALUES (1)","INSERT INTO t VALUES (2)"]}`))
	require.True(t, ok)
	assert.Equal(t, "transaction", resp.Type)
	assert.JSONEq(t, `7`, string(resp.ID))
	require.NotNil(t, resp.Data)
	assert.Len(t, resp.Data.Batch, 2)
	assert.True(t, got.IsBatch())
	assert.Equal(t, []string{"INSERT INTO t VALUES (1)", "INSERT INTO t VALUES (2)"}, got.SQL())
}

func TestHandle_ExecutionError(t *testing.T) {
	b := NewBridge(ExecutorFunc(func(context.Context, query.Statement) (*query.Outcome, error) {
		return nil, &errs.RemoteError{Kind: errs.ErrRemoteRejected, Message: "no such table: t"}
	}), nil)

	resp, ok := b.Handle(context.Background(), []byte(`{"type":"query","id":"abc","statement":"SELECT * FROM t"}`))
	require.True(t, ok)
	assert.Nil(t, resp.Data)
	assert.Equal(t, "no such table: t", resp.Error)
}

func TestHandle_EmptyErrorMessage(t *testing.T) {
	b := NewBridge(ExecutorFunc(func(context.Context, query.Statement) (*query.Outcome, error) {
		return nil, errors.New("")
	}), nil)

	resp, ok := b.Handle(context.Background(), []byte(`{"type":"query","id":"x","statement":"SELECT 1"}`))
	require.True(t, ok)
	assert.NotEmpty(t, resp.Error)
}

func TestHandle_Malformed(t *testing.T) {
	called := false
	b := NewBridge(ExecutorFunc(func(context.Context, query.Statement) (*query.Outcome, error) {
		called = true
		return oneRow(""), nil
	}), nil)

	tests := []struct {
		name  string
		raw   string
		reply bool
	}{
		{"not json", `{"type":`, false},
		{"unknown type", `{"type":"ping","id":"1"}`, false},
		{"missing id", `{"type":"query","statement":"SELECT 1"}`, false},
		{"null id", `{"type":"query","id":null,"statement":"SELECT 1"}`, false},
		{"missing statement", `{"type":"query","id":"1"}`, true},
		{"statement not a string", `{"type":"query","id":"1","statement":["SELECT 1"]}`, true},
		{"empty transaction", `{"type":"transaction","id":"1","statements":[]}`, true},
		{"blank statement in transaction", `{"type":"transaction","id":"1","statements":["SELECT 1","  "]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := b.Handle(context.Background(), []byte(tt.raw))
			assert.Equal(t, tt.reply, ok)
			if ok {
				assert.Nil(t, resp.Data)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
	assert.False(t, called, "malformed requests never reach the executor")
}

func TestServe_ConcurrentRequestsCorrelatedByID(t *testing.T) {
	release := make(chan struct{})
	var inFlight sync.WaitGroup
	inFlight.Add(3)
	b := NewBridge(ExecutorFunc(func(ctx context.Context, st query.Statement) (*query.Outcome, error) {
		inFlight.Done()
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return oneRow(st.SQL()[0]), nil
	}), nil)

	p := newPipe()
	done := make(chan error, 1)
	go func() { done <- b.Serve(context.Background(), p) }()

	for i := 0; i < 3; i++ {
		p.in <- []byte(fmt.Sprintf(`{"type":"query","id":"q%d","statement":"SELECT %d"}`, i, i))
	}
	// all three run at once before any of them completes
	inFlight.Wait()
	close(release)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		m := p.next(t)
		var id string
		require.NoError(t, json.Unmarshal(m["id"], &id))
		ids[id] = true
		assert.Contains(t, m, "data")
	}
	assert.Equal(t, map[string]bool{"q0": true, "q1": true, "q2": true}, ids)

	close(p.in)
	assert.ErrorIs(t, <-done, io.EOF)
}

func TestServe_IgnoresUnknownAndAnswersTheRest(t *testing.T) {
	b := NewBridge(echoExecutor(), nil)
	p := newPipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, p) }()

	p.in <- []byte(`{"type":"hello"}`)
	p.in <- []byte(`{"type":"query","id":"abc","statement":"SELECT 1"}`)

	m := p.next(t)
	assert.JSONEq(t, `"abc"`, string(m["id"]))
	assert.JSONEq(t, `"query"`, string(m["type"]))

	select {
	case extra := <-p.out:
		t.Fatalf("unexpected extra response %s", extra)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
