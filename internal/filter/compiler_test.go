package filter

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/territorial-engagement/backend/internal/domain"
)

func fullFilter() domain.Filter {
	return domain.Filter{
		StartDate:         domain.Date(2024, time.January, 1),
		EndDate:           domain.Date(2024, time.December, 31),
		Year:              domain.Int(2024),
		Month:             domain.Int(6),
		Zone:              domain.String("NORTE"),
		Department:        domain.String("ANTIOQUIA"),
		Municipality:      domain.String("MEDELLIN"),
		CanonicalCategory: domain.String("CAPACITACION"),
		InterestGroup:     domain.String("COMUNIDAD"),
		InterventionGroup: domain.String("G1"),
		Contract:          domain.String("C-001"),
		GeometryKind:      domain.String("vereda"),
		ActivityType:      domain.String("Taller"),
	}
}

func TestCompileEmptyFilter(t *testing.T) {
	c := Compile(domain.Filter{})
	if !c.IsEmpty() || c.Clause() != "" {
		t.Errorf("empty filter should compile to nothing, got %q", c.Where)
	}
	if len(c.Params) != 0 {
		t.Errorf("params = %v", c.Params)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	f := fullFilter()

	first := Compile(f)
	for i := 0; i < 20; i++ {
		again := Compile(f)
		if again.Where != first.Where {
			t.Fatalf("where differs:\n%s\n%s", first.Where, again.Where)
		}
		if !reflect.DeepEqual(again.Params, first.Params) {
			t.Fatalf("params differ: %v vs %v", first.Params, again.Params)
		}
		if again.Key() != first.Key() {
			t.Fatalf("keys differ")
		}
	}

	copied := fullFilter()
	if Compile(copied).Where != first.Where {
		t.Errorf("equal filters built separately must render identically")
	}
}

func TestCompileFieldOrderAndBinding(t *testing.T) {
	c := Compile(fullFilter())

	want := []string{
		"a.date >= :f_start_date",
		"a.date <= :f_end_date",
		"EXTRACT(YEAR FROM a.date) = :f_year",
		"EXTRACT(MONTH FROM a.date) = :f_month",
		"a.zone = :f_zone",
		"a.department = :f_department",
		"a.municipality = :f_municipality",
		"a.canonical_category = :f_canonical_category",
		"a.interest_group = :f_interest_group",
		"a.intervention_group = :f_intervention_group",
		"a.contract = :f_contract",
		"a.geometry_kind = :f_geometry_kind",
		"a.activity_category = :f_activity_type",
	}
	if got := strings.Split(c.Where, " AND "); !reflect.DeepEqual(got, want) {
		t.Errorf("predicates =\n%v\nwant\n%v", got, want)
	}

	if c.Params["f_start_date"] != "2024-01-01" || c.Params["f_end_date"] != "2024-12-31" {
		t.Errorf("date params = %v, %v", c.Params["f_start_date"], c.Params["f_end_date"])
	}
	if c.Params["f_department"] != "ANTIOQUIA" {
		t.Errorf("department param = %v", c.Params["f_department"])
	}
	if strings.Contains(c.Where, "ANTIOQUIA") {
		t.Errorf("values must be bound, not interpolated: %s", c.Where)
	}
}

func TestCompileSkipsNilFields(t *testing.T) {
	c := Compile(domain.Filter{Department: domain.String("CHOCO"), Month: domain.Int(3)})

	if c.Where != "EXTRACT(MONTH FROM a.date) = :f_month AND a.department = :f_department" {
		t.Errorf("where = %q", c.Where)
	}
	if len(c.Params) != 2 {
		t.Errorf("params = %v", c.Params)
	}
}

func TestWithAppendsTemplatePredicates(t *testing.T) {
	base := Compile(domain.Filter{Department: domain.String("CHOCO")})
	ext := base.With(map[string]interface{}{"before": "2025-01-01"}, "a.date < :before")

	if ext.Clause() != " WHERE a.department = :f_department AND a.date < :before" {
		t.Errorf("clause = %q", ext.Clause())
	}
	if _, leaked := base.Params["before"]; leaked {
		t.Errorf("With must not mutate the receiver")
	}

	onlyExtra := Compile(domain.Filter{}).With(nil, "a.geometry IS NOT NULL")
	if onlyExtra.Where != "a.geometry IS NOT NULL" {
		t.Errorf("where = %q", onlyExtra.Where)
	}
}

func TestCompileAsUsesAlias(t *testing.T) {
	c := CompileAs(domain.Filter{Zone: domain.String("SUR")}, "act")
	if c.Where != "act.zone = :f_zone" {
		t.Errorf("where = %q", c.Where)
	}
}
