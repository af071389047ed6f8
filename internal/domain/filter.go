package domain

import (
	"fmt"
	"time"

	"github.com/territorial-engagement/backend/internal/apperr"
)

type GeometryKind string

const (
	GeometryVereda       GeometryKind = "vereda"
	GeometryCabecera     GeometryKind = "cabecera"
	GeometryMunicipio    GeometryKind = "municipio"
	GeometryDepartamento GeometryKind = "departamento"
)

func (k GeometryKind) Valid() bool {
	switch k {
	case GeometryVereda, GeometryCabecera, GeometryMunicipio, GeometryDepartamento:
		return true
	}
	return false
}

// Filter is the declarative slice shared by every analytical query.
// A nil field places no constraint on its dimension.
type Filter struct {
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Year              *int       `json:"year,omitempty"`
	Month             *int       `json:"month,omitempty"`
	Zone              *string    `json:"zone,omitempty"`
	Department        *string    `json:"department,omitempty"`
	Municipality      *string    `json:"municipality,omitempty"`
	CanonicalCategory *string    `json:"canonical_category,omitempty"`
	InterestGroup     *string    `json:"interest_group,omitempty"`
	InterventionGroup *string    `json:"intervention_group,omitempty"`
	Contract          *string    `json:"contract,omitempty"`
	GeometryKind      *string    `json:"geometry_kind,omitempty"`
	ActivityType      *string    `json:"activity_type,omitempty"`
}

func (f Filter) Validate() error {
	if f.Month != nil && (*f.Month < 1 || *f.Month > 12) {
		return fmt.Errorf("%w: month %d out of range", apperr.ErrInvalidFilter, *f.Month)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return fmt.Errorf("%w: end date before start date", apperr.ErrInvalidFilter)
	}
	if f.GeometryKind != nil && !GeometryKind(*f.GeometryKind).Valid() {
		return fmt.Errorf("%w: unknown geometry kind %q", apperr.ErrInvalidFilter, *f.GeometryKind)
	}
	return nil
}

// ReferencesGeometry reports whether the filter narrows on geometry, in
// which case the prioritizer also consults the spatial layers.
func (f Filter) ReferencesGeometry() bool {
	return f.GeometryKind != nil
}

func String(s string) *string {
	return &s
}

func Int(i int) *int {
	return &i
}

func Date(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}
