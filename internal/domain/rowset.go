package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ColumnKind string

const (
	KindString ColumnKind = "string"
	KindInt    ColumnKind = "int"
	KindFloat  ColumnKind = "float"
	KindTime   ColumnKind = "time"
	KindBool   ColumnKind = "bool"
	KindOther  ColumnKind = "other"
)

type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

type Row map[string]interface{}

// RowSet is a tabular result. SQL NULLs are kept as nil.
type RowSet struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func EmptyRowSet(columns ...Column) *RowSet {
	return &RowSet{Columns: columns, Rows: []Row{}}
}

func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

func (rs *RowSet) Kind(name string) ColumnKind {
	for _, c := range rs.Columns {
		if c.Name == name {
			return c.Kind
		}
	}
	return KindOther
}

// UnmarshalJSON restores column kinds that JSON flattens (ints come back as
// float64 and timestamps as strings), so cached results match fresh ones.
func (rs *RowSet) UnmarshalJSON(data []byte) error {
	type rawRowSet struct {
		Columns []Column `json:"columns"`
		Rows    []Row    `json:"rows"`
	}

	var raw rawRowSet
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	kinds := make(map[string]ColumnKind, len(raw.Columns))
	for _, c := range raw.Columns {
		kinds[c.Name] = c.Kind
	}

	for _, row := range raw.Rows {
		for name, v := range row {
			if v == nil {
				continue
			}
			restored, err := restoreValue(kinds[name], v)
			if err != nil {
				return fmt.Errorf("column %s: %w", name, err)
			}
			row[name] = restored
		}
	}

	rs.Columns = raw.Columns
	rs.Rows = raw.Rows
	if rs.Rows == nil {
		rs.Rows = []Row{}
	}
	return nil
}

func restoreValue(kind ColumnKind, v interface{}) (interface{}, error) {
	switch kind {
	case KindInt:
		if f, ok := v.(float64); ok {
			return int64(f), nil
		}
	case KindTime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return v, nil
}

func (r Row) String(name string) (string, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return fmt.Sprint(s), true
	}
}

func (r Row) Float(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	}
	return 0
}

func (r Row) Int(name string) int64 {
	switch v := r[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (r Row) Time(name string) (time.Time, bool) {
	t, ok := r[name].(time.Time)
	return t, ok
}
