package mocksqld

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// record keeps a copy of every request and restores its body.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Namespace:     r.Header.Get("x-namespace"),
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// inject answers with an injected failure when one is set for the path.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.failures[r.URL.Path]
		s.mu.Unlock()
		if ok {
			w.WriteHeader(f.status)
			//nolint:errcheck
			w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(check func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if check != nil && !check(r.Header.Get("Authorization")) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	version := s.version
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	//nolint:errcheck
	w.Write([]byte(version))
}

// handleListNamespaces handles GET /v1/namespaces.
func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	type namespace struct {
		Name           string `json:"name"`
		BlockReads     bool   `json:"block_reads"`
		BlockWrites    bool   `json:"block_writes"`
		MaxDBSize      int64  `json:"max_db_size"`
		SharedSchema   bool   `json:"shared_schema"`
		DurabilityMode string `json:"durability_mode"`
	}

	names := s.Namespaces()
	out := make([]namespace, 0, len(names))
	for _, name := range names {
		out = append(out, namespace{Name: name, DurabilityMode: "relaxed"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": out})
}

// handleCreateNamespace handles POST /v1/namespaces/{name}/create.
// Duplicate names get 409 like sqld.
func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.namespaces[name] {
		writeError(w, http.StatusConflict, fmt.Sprintf("Namespace `%s` already exists", name))
		return
	}
	s.namespaces[name] = true
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handlePipeline handles POST /v2/pipeline.
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	ns := r.Header.Get("x-namespace")
	if ns == "" {
		ns = DefaultNamespace
	}

	s.mu.Lock()
	exists := s.namespaces[ns]
	s.mu.Unlock()
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Namespace `%s` doesn't exist", ns))
		return
	}

	var req pipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pipeline request: "+err.Error())
		return
	}

	resp := pipelineResponse{Results: make([]streamResult, 0, len(req.Requests))}
	for _, sr := range req.Requests {
		resp.Results = append(resp.Results, s.handleStreamRequest(sr))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamRequest(sr streamRequest) streamResult {
	switch sr.Type {
	case "execute":
		if sr.Stmt == nil {
			return errorResult("execute request without stmt")
		}
		res, herr := s.run(sr.Stmt.SQL)
		if herr != nil {
			return streamResult{Type: "error", Error: herr}
		}
		return okResult(map[string]any{"type": "execute", "result": res})

	case "batch":
		if sr.Batch == nil {
			return errorResult("batch request without batch")
		}
		out := batchResult{
			StepResults: make([]*Result, len(sr.Batch.Steps)),
			StepErrors:  make([]*hranaError, len(sr.Batch.Steps)),
		}
		for i, step := range sr.Batch.Steps {
			if step.Condition != nil && !out.eval(*step.Condition) {
				continue
			}
			res, herr := s.run(step.Stmt.SQL)
			out.StepResults[i], out.StepErrors[i] = res, herr
		}
		return okResult(map[string]any{"type": "batch", "result": out})

	case "close":
		return okResult(map[string]any{"type": "close"})

	default:
		return errorResult("unsupported request type " + sr.Type)
	}
}

// run returns the scripted outcome for sql. Transaction control statements
// and unscripted SQL succeed with an empty result.
func (s *Server) run(sql string) (*Result, *hranaError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.errors[sql]; ok {
		return nil, &hranaError{Message: msg, Code: "SQLITE_ERROR"}
	}
	if res, ok := s.results[sql]; ok {
		return &res, nil
	}
	return &Result{Cols: []Col{}, Rows: [][]Value{}}, nil
}

// eval evaluates a batch condition against the steps run so far.
func (b *batchResult) eval(c condition) bool {
	switch c.Type {
	case "ok":
		return c.Step >= 0 && c.Step < len(b.StepResults) && b.StepResults[c.Step] != nil
	case "error":
		return c.Step >= 0 && c.Step < len(b.StepErrors) && b.StepErrors[c.Step] != nil
	case "not":
		return c.Cond != nil && !b.eval(*c.Cond)
	case "and":
		for _, sub := range c.Conds {
			if !b.eval(sub) {
				return false
			}
		}
		return true
	case "or":
		for _, sub := range c.Conds {
			if b.eval(sub) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func okResult(response any) streamResult {
	data, _ := json.Marshal(response)
	return streamResult{Type: "ok", Response: data}
}

func errorResult(message string) streamResult {
	return streamResult{Type: "error", Error: &hranaError{Message: strings.TrimSpace(message)}}
}
