package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/territorial-engagement/backend/internal/domain"
)

// FactAlias is the alias every analytical query gives the activities table.
const FactAlias = "a"

// Compiled is the predicate set shared by every downstream query. Where
// holds the conjunction without the WHERE keyword; Params binds its
// :placeholders.
type Compiled struct {
	Where  string
	Params map[string]interface{}
}

type predicate struct {
	param string
	render func(alias, param string) string
	value  func(f domain.Filter) (interface{}, bool)
}

func equals(column string) func(alias, param string) string {
	return func(alias, param string) string {
		return fmt.Sprintf("%s.%s = :%s", alias, column, param)
	}
}

func stringField(get func(domain.Filter) *string) func(domain.Filter) (interface{}, bool) {
	return func(f domain.Filter) (interface{}, bool) {
		s := get(f)
		if s == nil {
			return nil, false
		}
		return *s, true
	}
}

// predicates is ordered; the order fixes the rendered text.
var predicates = []predicate{
	{
		param:  "f_start_date",
		render: func(alias, param string) string { return fmt.Sprintf("%s.date >= :%s", alias, param) },
		value: func(f domain.Filter) (interface{}, bool) {
			if f.StartDate == nil {
				return nil, false
			}
			return f.StartDate.Format("2006-01-02"), true
		},
	},
	{
		param:  "f_end_date",
		render: func(alias, param string) string { return fmt.Sprintf("%s.date <= :%s", alias, param) },
		value: func(f domain.Filter) (interface{}, bool) {
			if f.EndDate == nil {
				return nil, false
			}
			return f.EndDate.Format("2006-01-02"), true
		},
	},
	{
		param:  "f_year",
		render: func(alias, param string) string { return fmt.Sprintf("EXTRACT(YEAR FROM %s.date) = :%s", alias, param) },
		value: func(f domain.Filter) (interface{}, bool) {
			if f.Year == nil {
				return nil, false
			}
			return *f.Year, true
		},
	},
	{
		param:  "f_month",
		render: func(alias, param string) string { return fmt.Sprintf("EXTRACT(MONTH FROM %s.date) = :%s", alias, param) },
		value: func(f domain.Filter) (interface{}, bool) {
			if f.Month == nil {
				return nil, false
			}
			return *f.Month, true
		},
	},
	{param: "f_zone", render: equals("zone"), value: stringField(func(f domain.Filter) *string { return f.Zone })},
	{param: "f_department", render: equals("department"), value: stringField(func(f domain.Filter) *string { return f.Department })},
	{param: "f_municipality", render: equals("municipality"), value: stringField(func(f domain.Filter) *string { return f.Municipality })},
	{param: "f_canonical_category", render: equals("canonical_category"), value: stringField(func(f domain.Filter) *string { return f.CanonicalCategory })},
	{param: "f_interest_group", render: equals("interest_group"), value: stringField(func(f domain.Filter) *string { return f.InterestGroup })},
	{param: "f_intervention_group", render: equals("intervention_group"), value: stringField(func(f domain.Filter) *string { return f.InterventionGroup })},
	{param: "f_contract", render: equals("contract"), value: stringField(func(f domain.Filter) *string { return f.Contract })},
	{param: "f_geometry_kind", render: equals("geometry_kind"), value: stringField(func(f domain.Filter) *string { return f.GeometryKind })},
	{param: "f_activity_type", render: equals("activity_category"), value: stringField(func(f domain.Filter) *string { return f.ActivityType })},
}

func Compile(f domain.Filter) Compiled {
	return CompileAs(f, FactAlias)
}

// CompileAs renders the predicates against a different table alias.
func CompileAs(f domain.Filter, alias string) Compiled {
	var clauses []string
	params := make(map[string]interface{})

	for _, p := range predicates {
		v, ok := p.value(f)
		if !ok {
			continue
		}
		clauses = append(clauses, p.render(alias, p.param))
		params[p.param] = v
	}

	return Compiled{
		Where:  strings.Join(clauses, " AND "),
		Params: params,
	}
}

// IsEmpty reports whether no predicate was rendered.
func (c Compiled) IsEmpty() bool {
	return c.Where == ""
}

// Clause renders " WHERE ..." or an empty string.
func (c Compiled) Clause() string {
	if c.IsEmpty() {
		return ""
	}
	return " WHERE " + c.Where
}

// With returns a copy extended by fixed template predicates and their
// parameters. Extra predicates are appended after the filter's own.
func (c Compiled) With(extra map[string]interface{}, predicates ...string) Compiled {
	clauses := make([]string, 0, len(predicates)+1)
	if !c.IsEmpty() {
		clauses = append(clauses, c.Where)
	}
	clauses = append(clauses, predicates...)

	params := make(map[string]interface{}, len(c.Params)+len(extra))
	for k, v := range c.Params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}

	return Compiled{Where: strings.Join(clauses, " AND "), Params: params}
}

// Key is a stable textual identity of the compiled filter, for cache keys
// and logs.
func (c Compiled) Key() string {
	names := make([]string, 0, len(c.Params))
	for k := range c.Params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(c.Where)
	for _, k := range names {
		fmt.Fprintf(&b, "|%s=%v", k, c.Params[k])
	}
	return b.String()
}
