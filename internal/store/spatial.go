package store

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/pkg/logger"
)

// RunSpatial runs a query whose geometryColumn holds ST_AsGeoJSON text and
// returns a feature collection. Every other column becomes a property; an
// "id" column also becomes the feature id. Rows with a NULL geometry are
// skipped.
func (s *Store) RunSpatial(ctx context.Context, sql string, params map[string]interface{}, geometryColumn string) (*geojson.FeatureCollection, error) {
	rs, err := s.run(ctx, "spatial", sql, params)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	skipped := 0

	for _, row := range rs.Rows {
		text, ok := row.String(geometryColumn)
		if !ok || text == "" {
			skipped++
			continue
		}

		g, err := geojson.UnmarshalGeometry([]byte(text))
		if err != nil {
			return nil, apperr.NewStorageError(apperr.StorageQuery, fmt.Errorf("failed to decode geometry: %w", err))
		}

		f := geojson.NewFeature(g.Geometry())
		for _, col := range rs.Columns {
			if col.Name == geometryColumn {
				continue
			}
			f.Properties[col.Name] = row[col.Name]
		}
		if id, ok := row["id"]; ok && id != nil {
			f.ID = id
		}

		fc.Append(f)
	}

	if skipped > 0 {
		logger.Debug("Skipped rows without geometry", zap.Int("count", skipped))
	}

	return fc, nil
}
