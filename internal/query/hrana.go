package query

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Hrana-over-HTTP v2 wire types. Only the requests the engine sends are
// modelled: execute, batch and close.

type pipelineRequest struct {
	Baton    *string         `json:"baton"`
	Requests []streamRequest `json:"requests"`
}

type streamRequest struct {
	Type  string `json:"type"`
	Stmt  *stmt  `json:"stmt,omitempty"`
	Batch *batch `json:"batch,omitempty"`
}

type stmt struct {
	SQL      string `json:"sql"`
	WantRows bool   `json:"want_rows"`
}

type batch struct {
	Steps []batchStep `json:"steps"`
}

type batchStep struct {
	Condition *condition `json:"condition,omitempty"`
	Stmt      stmt       `json:"stmt"`
}

type condition struct {
	Type string     `json:"type"`
	Step *int       `json:"step,omitempty"`
	Cond *condition `json:"cond,omitempty"`
}

func stepOK(step int) *condition {
	return &condition{Type: "ok", Step: &step}
}

func not(c *condition) *condition {
	return &condition{Type: "not", Cond: c}
}

type pipelineResponse struct {
	Baton   *string        `json:"baton"`
	Results []streamResult `json:"results"`
}

type streamResult struct {
	Type     string          `json:"type"`
	Response *streamResponse `json:"response,omitempty"`
	Error    *hranaError     `json:"error,omitempty"`
}

type streamResponse struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
}

type hranaError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type stmtResult struct {
	Cols             []col     `json:"cols"`
	Rows             [][]value `json:"rows"`
	AffectedRowCount int64     `json:"affected_row_count"`
	LastInsertRowID  *string   `json:"last_insert_rowid"`
	RowsRead         *int64    `json:"rows_read"`
}

type batchResult struct {
	StepResults []*stmtResult `json:"step_results"`
	StepErrors  []*hranaError `json:"step_errors"`
}

type col struct {
	Name     *string `json:"name"`
	Decltype *string `json:"decltype"`
}

type value struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value"`
	Base64 string          `json:"base64"`
}

// scalar converts a Hrana value to the JSON scalar reported to callers:
// nil, int64, float64 or string. Blobs stay base64 text.
func (v value) scalar() (any, error) {
	switch v.Type {
	case "null", "":
		return nil, nil
	case "integer":
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return nil, fmt.Errorf("integer value: %w", err)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer value: %w", err)
		}
		return n, nil
	case "float":
		var f float64
		if err := json.Unmarshal(v.Value, &f); err != nil {
			return nil, fmt.Errorf("float value: %w", err)
		}
		return f, nil
	case "text":
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return nil, fmt.Errorf("text value: %w", err)
		}
		return s, nil
	case "blob":
		return v.Base64, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", v.Type)
	}
}
