// Package storetest provides an in-memory store.Querier for service tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/store"
)

type Call struct {
	SQL            string
	Params         map[string]interface{}
	GeometryColumn string
}

// Handler answers a query. Returning nil, nil yields an empty RowSet.
type Handler func(sql string, params map[string]interface{}) (*domain.RowSet, error)

// Fake routes each query to the first handler whose key is a substring of
// the SQL text, and records every call.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	handlers []route
	Spatial  func(sql string, params map[string]interface{}) (*geojson.FeatureCollection, error)
}

type route struct {
	contains string
	handler  Handler
}

var _ store.Querier = (*Fake)(nil)

func New() *Fake {
	return &Fake{}
}

func (f *Fake) On(contains string, h Handler) *Fake {
	f.handlers = append(f.handlers, route{contains: contains, handler: h})
	return f
}

// Return registers a fixed answer.
func (f *Fake) Return(contains string, rs *domain.RowSet) *Fake {
	return f.On(contains, func(string, map[string]interface{}) (*domain.RowSet, error) {
		return rs, nil
	})
}

func (f *Fake) Fail(contains string, err error) *Fake {
	return f.On(contains, func(string, map[string]interface{}) (*domain.RowSet, error) {
		return nil, err
	})
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *Fake) RunTabular(ctx context.Context, sql string, params map[string]interface{}) (*domain.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.record(Call{SQL: sql, Params: params})

	for _, r := range f.handlers {
		if strings.Contains(sql, r.contains) {
			rs, err := r.handler(sql, params)
			if err != nil {
				return nil, err
			}
			if rs == nil {
				return domain.EmptyRowSet(), nil
			}
			return rs, nil
		}
	}
	return domain.EmptyRowSet(), nil
}

func (f *Fake) RunSpatial(ctx context.Context, sql string, params map[string]interface{}, geometryColumn string) (*geojson.FeatureCollection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.record(Call{SQL: sql, Params: params, GeometryColumn: geometryColumn})

	if f.Spatial != nil {
		return f.Spatial(sql, params)
	}
	return geojson.NewFeatureCollection(), nil
}

func (f *Fake) RunAll(ctx context.Context, queries []store.Query) ([]*domain.RowSet, error) {
	out := make([]*domain.RowSet, len(queries))
	for i, q := range queries {
		rs, err := f.RunTabular(ctx, q.SQL, q.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to run %s: %w", q.Name, err)
		}
		out[i] = rs
	}
	return out, nil
}

// Rows builds a RowSet from column names and positional values.
func Rows(columns []string, values ...[]interface{}) *domain.RowSet {
	rs := &domain.RowSet{Rows: []domain.Row{}}
	for _, name := range columns {
		rs.Columns = append(rs.Columns, domain.Column{Name: name, Kind: domain.KindOther})
	}
	for _, vals := range values {
		row := make(domain.Row, len(columns))
		for i, name := range columns {
			if i < len(vals) {
				row[name] = vals[i]
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
