package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
)

const dateLayout = "2006-01-02"

// FilterRequest is the wire form of domain.Filter. It is read from the
// query string on GET routes and from the JSON body elsewhere.
type FilterRequest struct {
	StartDate         string `json:"start_date" query:"start_date"`
	EndDate           string `json:"end_date" query:"end_date"`
	Year              string `json:"year" query:"year"`
	Month             string `json:"month" query:"month"`
	Zone              string `json:"zone" query:"zone"`
	Department        string `json:"department" query:"department"`
	Municipality      string `json:"municipality" query:"municipality"`
	CanonicalCategory string `json:"canonical_category" query:"canonical_category"`
	InterestGroup     string `json:"interest_group" query:"interest_group"`
	InterventionGroup string `json:"intervention_group" query:"intervention_group"`
	Contract          string `json:"contract" query:"contract"`
	GeometryKind      string `json:"geometry_kind" query:"geometry_kind"`
	ActivityType      string `json:"activity_type" query:"activity_type"`
}

// FilterParams lists the query keys FilterRequest understands.
var FilterParams = []string{
	"start_date", "end_date", "year", "month", "zone", "department", "municipality",
	"canonical_category", "interest_group", "intervention_group", "contract",
	"geometry_kind", "activity_type",
}

func (r FilterRequest) Filter() (domain.Filter, error) {
	var f domain.Filter
	var err error

	if f.StartDate, err = optionalDate("start_date", r.StartDate); err != nil {
		return f, err
	}
	if f.EndDate, err = optionalDate("end_date", r.EndDate); err != nil {
		return f, err
	}
	if f.Year, err = optionalInt("year", r.Year); err != nil {
		return f, err
	}
	if f.Month, err = optionalInt("month", r.Month); err != nil {
		return f, err
	}

	f.Zone = optionalString(r.Zone)
	f.Department = optionalString(r.Department)
	f.Municipality = optionalString(r.Municipality)
	f.CanonicalCategory = optionalString(r.CanonicalCategory)
	f.InterestGroup = optionalString(r.InterestGroup)
	f.InterventionGroup = optionalString(r.InterventionGroup)
	f.Contract = optionalString(r.Contract)
	f.GeometryKind = optionalString(r.GeometryKind)
	f.ActivityType = optionalString(r.ActivityType)

	return f, f.Validate()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(name, s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidFilter, name)
	}
	return &n, nil
}

func optionalDate(name, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", apperr.ErrInvalidFilter, name)
	}
	return &t, nil
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

type PredictRequest struct {
	Department        string `json:"department"`
	Municipality      string `json:"municipality"`
	Zone              string `json:"zone"`
	CanonicalCategory string `json:"canonical_category"`
	Date              string `json:"date"`
}

func (r PredictRequest) Domain() (domain.PredictionRequest, error) {
	if strings.TrimSpace(r.Department) == "" || strings.TrimSpace(r.CanonicalCategory) == "" {
		return domain.PredictionRequest{}, fmt.Errorf("%w: department and canonical_category are required", apperr.ErrInvalidFilter)
	}
	date, err := parseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalidFilter)
	}
	return domain.PredictionRequest{
		Department:        strings.TrimSpace(r.Department),
		Municipality:      strings.TrimSpace(r.Municipality),
		Zone:              strings.TrimSpace(r.Zone),
		CanonicalCategory: strings.TrimSpace(r.CanonicalCategory),
		Date:              date,
	}, nil
}

type PrioritizeRequest struct {
	Filter       FilterRequest `json:"filter"`
	ActivityType string        `json:"activity_type"`
	Target       int           `json:"target"`
}
