package query

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sipico/sqld-gateway/internal/credential"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/storage"
	"github.com/sipico/sqld-gateway/internal/testutil/mocksqld"
	"github.com/sipico/sqld-gateway/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return NewEngine(credential.NewFactory(token.NewSigner()), sqld.NewTransports(5*time.Second, nil), nil)
}

func basicServer(url string) storage.DatabaseServer {
	return storage.DatabaseServer{
		ID:         "srv-1",
		Name:       "local",
		AdminURL:   url,
		NormalURL:  url,
		AdminAuth:  credential.Basic{Token: "admin"},
		NormalAuth: credential.Basic{Token: "data"},
	}
}

func TestExecute_Single(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New(mocksqld.WithDataAuth(func(h string) bool { return h == "Basic data" }))
	defer srv.Close()
	srv.AddNamespace("sales")
	rowsRead := int64(7)
	srv.SetResult("SELECT id, name, score, avatar, note FROM users", mocksqld.Result{
		Cols: []mocksqld.Col{
			mocksqld.Column("id", "INTEGER"),
			mocksqld.Column("name", "TEXT"),
			mocksqld.Column("score", "REAL"),
			mocksqld.Column("avatar", "BLOB"),
			mocksqld.Column("note", ""),
		},
		Rows: [][]mocksqld.Value{
			{mocksqld.Integer(1), mocksqld.Text("ada"), mocksqld.Float(9.5), mocksqld.Blob([]byte("hi")), mocksqld.Null()},
		},
		RowsRead: &rowsRead,
	})

	out, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "sales",
		Single("SELECT id, name, score, avatar, note FROM users"))
	require.NoError(t, err)
	require.NotNil(t, out.Single)
	assert.Nil(t, out.Batch)

	res := out.Single
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, []string{"id", "name", "score", "avatar", "note"}, row.Columns())
	v, _ := row.Get("id")
	assert.Equal(t, int64(1), v)
	v, _ = row.Get("name")
	assert.Equal(t, "ada", v)
	v, _ = row.Get("score")
	assert.Equal(t, 9.5, v)
	v, _ = row.Get("avatar")
	assert.Equal(t, "aGk=", v)
	v, ok := row.Get("note")
	assert.True(t, ok)
	assert.Nil(t, v)

	require.Len(t, res.Headers, 5)
	assert.Equal(t, Header{Name: "id", DisplayName: "id", Type: "text"}, res.Headers[0])
	assert.Nil(t, res.Headers[0].OriginalType)
	assert.EqualValues(t, 7, res.Stat.RowsRead)

	last := srv.LastRequest()
	assert.Equal(t, "/v2/pipeline", last.Path)
	assert.Equal(t, "sales", last.Namespace)
	assert.Equal(t, "Basic data", last.Authorization)
	assert.Contains(t, string(last.Body), `"type":"close"`)
}

func TestExecute_BatchIndexAligned(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()
	srv.SetResult("INSERT INTO t VALUES (1)", mocksqld.Result{AffectedRowCount: 1})
	srv.SetResult("INSERT INTO t VALUES (2)", mocksqld.Result{AffectedRowCount: 2})

	out, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "default",
		Batch("INSERT INTO t VALUES (1)", "INSERT INTO t VALUES (2)"))
	require.NoError(t, err)
	assert.Nil(t, out.Single)
	require.Len(t, out.Batch, 2)
	assert.EqualValues(t, 1, out.Batch[0].Stat.RowsAffected)
	assert.EqualValues(t, 2, out.Batch[1].Stat.RowsAffected)
	assert.EqualValues(t, 0, out.Batch[0].Stat.RowsRead)

	var sent struct {
		Requests []struct {
			Type  string `json:"type"`
			Batch struct {
				Steps []struct {
					Condition json.RawMessage `json:"condition"`
					Stmt      struct {
						SQL string `json:"sql"`
					} `json:"stmt"`
				} `json:"steps"`
			} `json:"batch"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(srv.LastRequest().Body, &sent))
	steps := sent.Requests[0].Batch.Steps
	require.Len(t, steps, 5)
	assert.Equal(t, "BEGIN IMMEDIATE", steps[0].Stmt.SQL)
	assert.Empty(t, steps[0].Condition)
	assert.JSONEq(t, `{"type":"ok","step":0}`, string(steps[1].Condition))
	assert.JSONEq(t, `{"type":"ok","step":1}`, string(steps[2].Condition))
	assert.Equal(t, "COMMIT", steps[3].Stmt.SQL)
	assert.JSONEq(t, `{"type":"ok","step":2}`, string(steps[3].Condition))
	assert.Equal(t, "ROLLBACK", steps[4].Stmt.SQL)
	assert.JSONEq(t, `{"type":"not","cond":{"type":"ok","step":3}}`, string(steps[4].Condition))
}

func TestExecute_BatchFailsAsUnit(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()
	srv.SetError("INSERT INTO missing VALUES (1)", "SQLite error: no such table: missing")

	out, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "default",
		Batch("INSERT INTO t VALUES (1)", "INSERT INTO missing VALUES (1)"))
	assert.Nil(t, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
	assert.Equal(t, "SQLite error: no such table: missing", err.Error())
}

func TestExecute_SingleError(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()
	srv.SetError("SELEC 1", `near "SELEC": syntax error`)

	_, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "default", Single("SELEC 1"))
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestExecute_UnknownNamespace(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()

	_, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "ghost", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), "doesn't exist")
}

func TestExecute_RejectedAuth(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New(mocksqld.WithDataAuth(func(string) bool { return false }))
	defer srv.Close()

	_, err := newEngine().Execute(context.Background(), basicServer(srv.URL()), "default", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)

	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusUnauthorized, remote.StatusCode)
}

func TestExecute_InvalidInputNoRemoteCall(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()
	e := newEngine()
	ctx := context.Background()

	_, err := e.Execute(ctx, basicServer(srv.URL()), "bad name!", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = e.Execute(ctx, basicServer(srv.URL()), "default", Single("  "))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = e.Execute(ctx, basicServer(srv.URL()), "default", Batch())
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = e.Execute(ctx, basicServer(srv.URL()), "default", Batch("SELECT 1", ""))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	assert.Empty(t, srv.Requests())
}

func TestExecute_Unreachable(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	url := srv.URL()
	srv.Close()

	_, err := newEngine().Execute(context.Background(), basicServer(url), "default", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrRemoteUnreachable)
}

func TestExecute_JWTFreshPerCall(t *testing.T) {
	t.Parallel()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	clock := time.Unix(1_700_000_000, 0)
	signer := token.NewSigner(token.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	verifier := token.NewSigner(token.WithClock(func() time.Time { return time.Unix(1_700_000_100, 0) }))

	srv := mocksqld.New(mocksqld.WithDataAuth(func(h string) bool {
		_, err := verifier.Verify(pub, strings.TrimPrefix(h, "Bearer "))
		return strings.HasPrefix(h, "Bearer ") && err == nil
	}))
	defer srv.Close()

	e := NewEngine(credential.NewFactory(signer), sqld.NewTransports(5*time.Second, nil), nil)
	server := basicServer(srv.URL())
	server.NormalAuth = credential.JWT{PrivateKey: keyPEM}

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), server, "default", Single("SELECT 1"))
		require.NoError(t, err)
	}

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].Authorization, reqs[1].Authorization)
}

func TestExecute_SigningFailure(t *testing.T) {
	t.Parallel()
	srv := mocksqld.New()
	defer srv.Close()

	server := basicServer(srv.URL())
	server.NormalAuth = credential.JWT{PrivateKey: "not a key"}

	_, err := newEngine().Execute(context.Background(), server, "default", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrSigningFailure)
	assert.NotErrorIs(t, err, errs.ErrRemoteUnreachable)
	assert.Empty(t, srv.Requests())
}

func TestExecute_InsecureTLS(t *testing.T) {
	t.Parallel()
	srv := mocksqld.NewTLS()
	defer srv.Close()
	server := basicServer(srv.URL())

	_, err := newEngine().Execute(context.Background(), server, "default", Single("SELECT 1"))
	assert.ErrorIs(t, err, errs.ErrRemoteUnreachable)

	server.InsecureTLS = true
	_, err = newEngine().Execute(context.Background(), server, "default", Single("SELECT 1"))
	assert.NoError(t, err)
}

func TestPipelineBase(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8080/", want: "http://localhost:8080"},
		{in: "https://db.example.com", want: "https://db.example.com"},
		{in: "libsql://db.example.com", want: "https://db.example.com"},
		{in: "wss://db.example.com", want: "https://db.example.com"},
		{in: "ws://db.example.com", want: "http://db.example.com"},
		{in: "ftp://db.example.com", wantErr: true},
		{in: "db.example.com", wantErr: true},
	}
	for _, tt := range tests {
		got, err := pipelineBase(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errs.ErrInvalidInput, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String())
	}
}
