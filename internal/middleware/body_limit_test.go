package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		limit    int64
		bodySize int
		wantErr  bool
	}{
		{"under limit", 1024, 512, false},
		{"exactly at limit", 1024, 1024, false},
		{"over limit", 1024, 2048, true},
		{"empty body", 1024, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var readErr error
			var read int
			handler := MaxBodySize(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				read, readErr = len(data), err
			}))

			req := httptest.NewRequest("POST", "/api/servers/x/namespaces/y/query", bytes.NewReader(make([]byte, tt.bodySize)))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			var maxErr *http.MaxBytesError
			if got := errors.As(readErr, &maxErr); got != tt.wantErr {
				t.Fatalf("MaxBytesError = %v, want %v (err %v)", got, tt.wantErr, readErr)
			}
			if !tt.wantErr && read != tt.bodySize {
				t.Errorf("read %d bytes, want %d", read, tt.bodySize)
			}
		})
	}
}

func TestMaxBodySize_NoBody(t *testing.T) {
	t.Parallel()
	handler := MaxBodySize(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != http.NoBody {
			t.Errorf("expected NoBody to pass through untouched")
		}
	}))
	req := httptest.NewRequest("GET", "/api/servers", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}
