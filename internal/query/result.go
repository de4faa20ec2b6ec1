package query

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sipico/sqld-gateway/internal/errs"
)

// Statement is either a single SQL string or a batch of them.
type Statement struct {
	sql   []string
	batch bool
}

// Single returns a one-statement Statement.
func Single(sql string) Statement {
	return Statement{sql: []string{sql}}
}

// Batch returns a Statement that runs every sql in one transaction.
func Batch(sql ...string) Statement {
	return Statement{sql: append([]string(nil), sql...), batch: true}
}

// IsBatch reports whether s was built with Batch.
func (s Statement) IsBatch() bool { return s.batch }

// SQL returns the statement texts in order.
func (s Statement) SQL() []string { return append([]string(nil), s.sql...) }

// Validate rejects empty statements and empty batches.
func (s Statement) Validate() error {
	if len(s.sql) == 0 {
		return errs.Invalid("statement must be a string or a non-empty array of strings")
	}
	for i, sql := range s.sql {
		if strings.TrimSpace(sql) == "" {
			if s.batch {
				return errs.Invalid("statement %d is empty", i)
			}
			return errs.Invalid("statement is empty")
		}
	}
	return nil
}

// UnmarshalJSON accepts "SELECT 1" or ["SELECT 1", "SELECT 2"].
func (s *Statement) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return errs.Invalid("statement: %v", err)
		}
		*s = Batch(list...)
		return nil
	}
	var one string
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return errs.Invalid("statement must be a string or an array of strings")
	}
	*s = Single(one)
	return nil
}

// MarshalJSON writes the form UnmarshalJSON reads.
func (s Statement) MarshalJSON() ([]byte, error) {
	if s.batch {
		return json.Marshal(s.sql)
	}
	if len(s.sql) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(s.sql[0])
}

// Header describes one result column.
type Header struct {
	Name         string  `json:"name"`
	DisplayName  string  `json:"displayName"`
	OriginalType *string `json:"originalType"`
	Type         string  `json:"type"`
}

// Stat reports row counts for one result.
type Stat struct {
	RowsAffected int64 `json:"rowsAffected"`
	RowsRead     int64 `json:"rowsRead"`
}

// Row maps column names to scalar values and encodes as a JSON object with
// keys in column order.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow builds a row. A repeated column name keeps its first position and
// its last value.
func NewRow(columns []string, values []any) Row {
	r := Row{values: make(map[string]any, len(columns))}
	for i, c := range columns {
		if _, seen := r.values[c]; !seen {
			r.columns = append(r.columns, c)
		}
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.values[c] = v
	}
	return r
}

// Get returns the value of a column.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Columns returns the column names in order.
func (r Row) Columns() []string { return append([]string(nil), r.columns...) }

// MarshalJSON implements json.Marshaler.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[c])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is one normalized statement result.
type Result struct {
	Rows    []Row    `json:"rows"`
	Headers []Header `json:"headers"`
	Stat    Stat     `json:"stat"`
}

// Outcome is the result of running a Statement: Single for a single
// statement, Batch (index-aligned with the input) for a batch.
type Outcome struct {
	Single *Result
	Batch  []Result
}

// MarshalJSON encodes a single result as an object and a batch as an array.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Batch != nil {
		return json.Marshal(o.Batch)
	}
	return json.Marshal(o.Single)
}

// normalize converts a raw Hrana statement result.
func normalize(raw *stmtResult) (Result, error) {
	names := make([]string, len(raw.Cols))
	headers := make([]Header, len(raw.Cols))
	for i, c := range raw.Cols {
		if c.Name != nil {
			names[i] = *c.Name
		}
		headers[i] = Header{Name: names[i], DisplayName: names[i], Type: "text"}
	}

	rows := make([]Row, 0, len(raw.Rows))
	for _, rawRow := range raw.Rows {
		values := make([]any, len(rawRow))
		for j, v := range rawRow {
			s, err := v.scalar()
			if err != nil {
				return Result{}, err
			}
			values[j] = s
		}
		rows = append(rows, NewRow(names, values))
	}

	// rows_read is only reported by newer servers
	stat := Stat{RowsAffected: raw.AffectedRowCount, RowsRead: int64(len(rows))}
	if raw.RowsRead != nil {
		stat.RowsRead = *raw.RowsRead
	}

	return Result{Rows: rows, Headers: headers, Stat: stat}, nil
}
