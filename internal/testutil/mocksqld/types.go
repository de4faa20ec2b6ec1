package mocksqld

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

// Value is a Hrana value as it appears on the wire.
type Value struct {
	Type   string `json:"type"`
	Value  any    `json:"value,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

// Null returns a null value.
func Null() Value { return Value{Type: "null"} }

// Integer returns an integer value. Hrana encodes integers as strings.
func Integer(n int64) Value { return Value{Type: "integer", Value: strconv.FormatInt(n, 10)} }

// Float returns a float value.
func Float(f float64) Value { return Value{Type: "float", Value: f} }

// Text returns a text value.
func Text(s string) Value { return Value{Type: "text", Value: s} }

// Blob returns a blob value.
func Blob(b []byte) Value { return Value{Type: "blob", Base64: base64.StdEncoding.EncodeToString(b)} }

// Col is a result column.
type Col struct {
	Name     *string `json:"name"`
	Decltype *string `json:"decltype"`
}

// Column builds a column with an optional declared type.
func Column(name, decltype string) Col {
	c := Col{Name: &name}
	if decltype != "" {
		c.Decltype = &decltype
	}
	return c
}

// Result is a statement result.
type Result struct {
	Cols             []Col     `json:"cols"`
	Rows             [][]Value `json:"rows"`
	AffectedRowCount int64     `json:"affected_row_count"`
	LastInsertRowID  *string   `json:"last_insert_rowid"`
	RowsRead         *int64    `json:"rows_read,omitempty"`
}

// Hrana pipeline wire types. Only the request kinds the gateway sends are
// understood: execute, batch and close.

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
	Type  string      `json:"type"`
	Step  int         `json:"step,omitempty"`
	Cond  *condition  `json:"cond,omitempty"`
	Conds []condition `json:"conds,omitempty"`
}

type pipelineResponse struct {
	Baton   *string        `json:"baton"`
	BaseURL *string        `json:"base_url"`
	Results []streamResult `json:"results"`
}

type streamResult struct {
	Type     string          `json:"type"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *hranaError     `json:"error,omitempty"`
}

type hranaError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type batchResult struct {
	StepResults []*Result     `json:"step_results"`
	StepErrors  []*hranaError `json:"step_errors"`
}
