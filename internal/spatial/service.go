package spatial

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/store"
	"github.com/territorial-engagement/backend/pkg/logger"
)

// AttributeFilter is a case-insensitive substring match on one field.
type AttributeFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type Service struct {
	store           store.Querier
	toleranceFactor float64
}

func NewService(q store.Querier, toleranceFactor float64) *Service {
	if toleranceFactor <= 0 {
		toleranceFactor = 0.0005
	}
	return &Service{store: q, toleranceFactor: toleranceFactor}
}

const (
	toleranceParam = "tolerance_factor"
	attrParam      = "attr_value"
)

func (s *Service) Geometries(ctx context.Context, layerName string, af *AttributeFilter) (*geojson.FeatureCollection, error) {
	layer, err := LookupLayer(layerName)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{}
	where := ""
	if af != nil {
		field, err := layer.Field(af.Field)
		if err != nil {
			return nil, err
		}
		where = fmt.Sprintf(" WHERE CAST(p.%s AS text) ILIKE :%s ESCAPE '\\'", field.ID, attrParam)
		params[attrParam] = likePattern(af.Value)
	}

	sql := geometriesSQL(layer, where)
	if layer.Geometry == GeometryPolygon || layer.Geometry == GeometryMixed {
		params[toleranceParam] = s.toleranceFactor
	}

	fc, err := s.store.RunSpatial(ctx, sql, params, "geometry")
	if err != nil {
		return nil, fmt.Errorf("failed to load layer %s: %w", layer.Name, err)
	}

	logger.Debug("Layer loaded",
		zap.String("layer", layer.Name),
		zap.Int("features", len(fc.Features)),
		zap.Bool("filtered", af != nil),
	)
	return fc, nil
}

func geometriesSQL(layer Layer, where string) string {
	cols := make([]string, 0, len(layer.Fields)+2)
	cols = append(cols, layer.IDExpr+" AS id")
	for _, f := range layer.Fields {
		cols = append(cols, "p."+f.ID)
	}

	switch layer.Geometry {
	case GeometryPolygon, GeometryMixed:
		geom := "ST_SimplifyPreserveTopology(p.geometry, COALESCE(extent.side, 0) * :" + toleranceParam + ")"
		if layer.Geometry == GeometryMixed {
			geom = "CASE WHEN GeometryType(p.geometry) IN ('POLYGON', 'MULTIPOLYGON') THEN " + geom + " ELSE p.geometry END"
		}
		cols = append(cols, "ST_AsGeoJSON("+geom+") AS geometry")
		return `WITH extent AS (
	SELECT GREATEST(ST_XMax(e) - ST_XMin(e), ST_YMax(e) - ST_YMin(e)) AS side
	FROM (SELECT ST_Extent(geometry) AS e FROM ` + layer.Table + `) x
)
SELECT ` + strings.Join(cols, ", ") + `
FROM ` + layer.Table + ` p
CROSS JOIN extent` + where + `
ORDER BY 1`
	}

	cols = append(cols, "ST_AsGeoJSON(p.geometry) AS geometry")
	return `SELECT ` + strings.Join(cols, ", ") + `
FROM ` + layer.Table + ` p` + where + `
ORDER BY 1`
}

// likePattern NFC-normalizes the value and escapes LIKE metacharacters so
// the match is a plain substring match.
func likePattern(value string) string {
	v := norm.NFC.String(value)
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	return "%" + v + "%"
}

func (s *Service) FieldList(layerName string) ([]Field, error) {
	layer, err := LookupLayer(layerName)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(layer.Fields))
	copy(out, layer.Fields)
	return out, nil
}

// FieldValues returns the distinct non-null values of a field. Text is
// ordered with Spanish collation; numbers numerically.
func (s *Service) FieldValues(ctx context.Context, layerName, fieldID string) ([]string, error) {
	layer, err := LookupLayer(layerName)
	if err != nil {
		return nil, err
	}
	field, err := layer.Field(fieldID)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT DISTINCT CAST(p.%s AS text) AS value FROM %s p WHERE p.%s IS NOT NULL", field.ID, layer.Table, field.ID)
	rs, err := s.store.RunTabular(ctx, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load values of %s.%s: %w", layer.Name, field.ID, err)
	}

	values := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		if v, ok := row.String("value"); ok {
			values = append(values, v)
		}
	}

	sortValues(values, field)
	return values, nil
}

func sortValues(values []string, field Field) {
	if field.numeric() {
		sort.SliceStable(values, func(i, j int) bool {
			a, errA := strconv.ParseFloat(values[i], 64)
			b, errB := strconv.ParseFloat(values[j], 64)
			if errA != nil || errB != nil {
				return values[i] < values[j]
			}
			return a < b
		})
		return
	}
	collate.New(language.Spanish).SortStrings(values)
}

type Centroid struct {
	Department   string    `json:"department"`
	Municipality string    `json:"municipality"`
	Point        orb.Point `json:"point"`
}

// MunicipalityCentroids returns the polygon centroid of every municipality
// that has at least one activity under the filter.
func (s *Service) MunicipalityCentroids(ctx context.Context, c filter.Compiled) ([]Centroid, error) {
	sub := c.With(nil, "a.department = p.department", "a.municipality = p.municipality")
	sql := `SELECT
	p.department,
	p.municipality,
	ST_X(ST_Centroid(p.geometry)) AS lon,
	ST_Y(ST_Centroid(p.geometry)) AS lat
FROM activities_municipalities p
WHERE EXISTS (SELECT 1 FROM activities a` + sub.Clause() + `)
ORDER BY p.department, p.municipality`

	rs, err := s.store.RunTabular(ctx, sql, sub.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load municipality centroids: %w", err)
	}

	out := make([]Centroid, 0, rs.Len())
	for _, row := range rs.Rows {
		dept, _ := row.String("department")
		muni, _ := row.String("municipality")
		out = append(out, Centroid{
			Department:   dept,
			Municipality: muni,
			Point:        orb.Point{row.Float("lon"), row.Float("lat")},
		})
	}
	return out, nil
}
