package aggregation

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
)

type Level string

const (
	LevelDepartments    Level = "departments"
	LevelMunicipalities Level = "municipalities"
	LevelVeredas        Level = "veredas"
	LevelCabeceras      Level = "cabeceras"
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelDepartments, LevelMunicipalities, LevelVeredas, LevelCabeceras:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", apperr.ErrUnknownAggregate, s)
}

// MapAggregate returns one feature per unit of the level, carrying the
// simplified polygon with activity count, attendee sum and mean attendees.
func (s *Service) MapAggregate(ctx context.Context, c filter.Compiled, level Level) (*geojson.FeatureCollection, error) {
	params := map[string]interface{}{toleranceParam: s.opts.ToleranceFactor}

	var sql string
	switch level {
	case LevelDepartments:
		ext := c.With(params)
		sql, params = polygonLevelSQL(ext, "activities_departments", []string{"department"}), ext.Params
	case LevelMunicipalities:
		ext := c.With(params)
		sql, params = polygonLevelSQL(ext, "activities_municipalities", []string{"department", "municipality"}), ext.Params
	case LevelVeredas, LevelCabeceras:
		kind := domain.GeometryVereda
		if level == LevelCabeceras {
			kind = domain.GeometryCabecera
		}
		params[levelKindParam] = string(kind)
		ext := c.With(params)
		sql, params = fineLevelSQL(ext), ext.Params
	default:
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownAggregate, level)
	}

	fc, err := s.store.RunSpatial(ctx, sql, params, "geometry")
	if err != nil {
		return nil, fmt.Errorf("failed to build %s map aggregate: %w", level, err)
	}
	return fc, nil
}
