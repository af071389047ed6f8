package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/store"
	"github.com/territorial-engagement/backend/pkg/logger"
)

type Options struct {
	// Cache holds composite dashboard records. Optional.
	Cache           store.Cache
	CacheTTL        time.Duration
	ToleranceFactor float64
}

// Service computes rollups over the activities fact table. Every operation
// takes an already compiled filter so all queries of one request share the
// same predicate text.
type Service struct {
	store store.Querier
	opts  Options
}

func NewService(q store.Querier, opts Options) *Service {
	if opts.ToleranceFactor <= 0 {
		opts.ToleranceFactor = 0.0005
	}
	return &Service{store: q, opts: opts}
}

func (s *Service) KPI(ctx context.Context, c filter.Compiled) (*domain.KPI, error) {
	rs, err := s.store.RunTabular(ctx, kpiSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to compute kpi: %w", err)
	}
	kpi := kpiFromRows(rs)
	return &kpi, nil
}

func kpiFromRows(rs *domain.RowSet) domain.KPI {
	if rs.Len() == 0 {
		return domain.KPI{}
	}
	row := rs.Rows[0]
	return domain.KPI{
		TotalActivities:        row.Int("total_activities"),
		TotalAttendees:         row.Int("total_attendees"),
		DistinctMunicipalities: row.Int("distinct_municipalities"),
		ActiveMonths:           row.Int("active_months"),
		DistinctZones:          row.Int("distinct_zones"),
		DistinctInterestGroups: row.Int("distinct_interest_groups"),
		MeanAttendees:          row.Float("mean_attendees"),
		DistinctContracts:      row.Int("distinct_contracts"),
	}
}

// Count returns the number of Detail rows under the filter.
func (s *Service) Count(ctx context.Context, c filter.Compiled) (int64, error) {
	rs, err := s.store.RunTabular(ctx, countSQL(c), c.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	if rs.Len() == 0 {
		return 0, nil
	}
	return rs.Rows[0].Int("total_activities"), nil
}

func (s *Service) Detail(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, detailSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load detail rows: %w", err)
	}
	return rs, nil
}

// Temporal rolls activities up by ISO week.
func (s *Service) Temporal(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, temporalSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to compute temporal rollup: %w", err)
	}
	return rs, nil
}

// Distribution rolls attendance statistics up by (municipality, department).
func (s *Service) Distribution(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, distributionSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to compute distribution rollup: %w", err)
	}
	return rs, nil
}

// Comparative cross-tabulates by (zone, department, category).
func (s *Service) Comparative(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, comparativeSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to compute comparative rollup: %w", err)
	}
	return rs, nil
}

// MonthlySeries returns activity and attendee totals per calendar month in
// ascending order. Months without activity are absent.
func (s *Service) MonthlySeries(ctx context.Context, c filter.Compiled) ([]domain.MonthlyPoint, error) {
	rs, err := s.store.RunTabular(ctx, monthlySQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly series: %w", err)
	}

	series := make([]domain.MonthlyPoint, 0, rs.Len())
	for _, row := range rs.Rows {
		period, ok := row.Time("period")
		if !ok {
			logger.Warn("Skipping monthly row without period", zap.Any("row", row))
			continue
		}
		series = append(series, domain.MonthlyPoint{
			Period:     time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, time.UTC),
			Activities: row.Float("activities"),
			Attendees:  row.Float("attendees"),
		})
	}
	return series, nil
}

// MunicipalityMetrics returns activities, attendees and attendees per
// activity for every municipality under the filter.
func (s *Service) MunicipalityMetrics(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, municipalityMetricsSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load municipality metrics: %w", err)
	}
	return rs, nil
}

// InterestGroupMetrics is MunicipalityMetrics split by interest group.
func (s *Service) InterestGroupMetrics(ctx context.Context, c filter.Compiled) (*domain.RowSet, error) {
	rs, err := s.store.RunTabular(ctx, interestGroupMetricsSQL(c), c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load interest group metrics: %w", err)
	}
	return rs, nil
}
