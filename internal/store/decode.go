package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/territorial-engagement/backend/internal/domain"
)

// kindForType maps a driver's declared column type. An empty result means
// the driver gave no declaration (expression columns in sqlite) and the
// kind is inferred from the values.
func kindForType(dbType string) domain.ColumnKind {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "":
		return ""
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT", "SERIAL", "BIGSERIAL":
		return domain.KindInt
	case "NUMERIC", "DECIMAL", "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return domain.KindFloat
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return domain.KindTime
	case "BOOL", "BOOLEAN":
		return domain.KindBool
	case "TEXT", "VARCHAR", "BPCHAR", "CHAR", "CHARACTER", "NAME", "UUID", "JSON", "JSONB", "CHARACTER VARYING":
		return domain.KindString
	}
	return domain.KindOther
}

func kindOfValue(v interface{}) domain.ColumnKind {
	switch v.(type) {
	case int64, int32, int:
		return domain.KindInt
	case float64, float32:
		return domain.KindFloat
	case time.Time:
		return domain.KindTime
	case bool:
		return domain.KindBool
	case string, []byte:
		return domain.KindString
	}
	return domain.KindOther
}

func decodeRows(rows *sqlx.Rows) (*domain.RowSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]domain.Column, len(names))
	for i, name := range names {
		columns[i] = domain.Column{Name: name, Kind: kindForType(types[i].DatabaseTypeName())}
	}

	out := []domain.Row{}
	for rows.Next() {
		raw := make(map[string]interface{}, len(names))
		if err := rows.MapScan(raw); err != nil {
			return nil, err
		}

		row := make(domain.Row, len(names))
		for i := range columns {
			col := &columns[i]
			v := raw[col.Name]
			if v == nil {
				row[col.Name] = nil
				continue
			}
			if col.Kind == "" {
				col.Kind = kindOfValue(v)
			}
			converted, err := normalize(col.Kind, v)
			if err != nil {
				return nil, fmt.Errorf("failed to decode column %s: %w", col.Name, err)
			}
			row[col.Name] = converted
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range columns {
		if columns[i].Kind == "" {
			columns[i].Kind = domain.KindOther
		}
	}

	return &domain.RowSet{Columns: columns, Rows: out}, nil
}

// normalize converts a driver value to the Go type of its column kind:
// int64, float64, time.Time, bool or string.
func normalize(kind domain.ColumnKind, v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		s := string(b)
		switch kind {
		case domain.KindFloat:
			return strconv.ParseFloat(s, 64)
		case domain.KindInt:
			return strconv.ParseInt(s, 10, 64)
		case domain.KindBool:
			return strconv.ParseBool(s)
		}
		return s, nil
	}

	switch kind {
	case domain.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case domain.KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case domain.KindBool:
		switch n := v.(type) {
		case bool:
			return n, nil
		case int64:
			return n != 0, nil
		}
	}
	return v, nil
}
