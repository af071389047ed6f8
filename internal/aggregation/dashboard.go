package aggregation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/store"
	"github.com/territorial-engagement/backend/pkg/logger"
	"github.com/territorial-engagement/backend/pkg/utils"
)

// Dashboard is the composite record behind an exploration view. Callers
// pick the parts they render; the whole record is computed and cached once.
type Dashboard struct {
	KPI          domain.KPI     `json:"kpi"`
	Temporal     *domain.RowSet `json:"temporal"`
	Distribution *domain.RowSet `json:"distribution"`
	Comparative  *domain.RowSet `json:"comparative"`
}

func dashboardKey(c filter.Compiled) string {
	return "dashboard:" + utils.HashString(c.Key())
}

func (s *Service) Dashboard(ctx context.Context, c filter.Compiled) (*Dashboard, error) {
	key := dashboardKey(c)

	if s.opts.Cache != nil {
		var cached Dashboard
		found, err := s.opts.Cache.Get(ctx, key, &cached)
		if err != nil {
			logger.Warn("Dashboard cache read failed", zap.Error(err))
		} else if found {
			return &cached, nil
		}
	}

	results, err := s.store.RunAll(ctx, []store.Query{
		{Name: "kpi", SQL: kpiSQL(c), Params: c.Params},
		{Name: "temporal", SQL: temporalSQL(c), Params: c.Params},
		{Name: "distribution", SQL: distributionSQL(c), Params: c.Params},
		{Name: "comparative", SQL: comparativeSQL(c), Params: c.Params},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute dashboard: %w", err)
	}

	d := &Dashboard{
		KPI:          kpiFromRows(results[0]),
		Temporal:     results[1],
		Distribution: results[2],
		Comparative:  results[3],
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, key, d, s.opts.CacheTTL); err != nil {
			logger.Warn("Dashboard cache write failed", zap.Error(err))
		}
	}

	return d, nil
}
