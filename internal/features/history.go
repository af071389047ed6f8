package features

import (
	"context"
	"fmt"
	"time"

	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/store"
)

// HistoryRow is the slice of an activity the engineer looks at.
type HistoryRow struct {
	Date         time.Time
	Department   string
	Municipality string
	Category     string
	Zone         string
	Attendees    float64
}

// HistoryLoader returns activities dated strictly before the given day.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, before time.Time) ([]HistoryRow, error)
}

type StoreLoader struct {
	store store.Querier
}

func NewStoreLoader(q store.Querier) *StoreLoader {
	return &StoreLoader{store: q}
}

func (l *StoreLoader) LoadHistory(ctx context.Context, before time.Time) ([]HistoryRow, error) {
	c := filter.Compile(domain.Filter{}).With(
		map[string]interface{}{"before": before.Format("2006-01-02")},
		"a.date < :before",
		"a.total_attendees IS NOT NULL",
	)

	sql := `SELECT a.date, a.department, a.municipality, a.canonical_category, a.zone, a.total_attendees
FROM activities a` + c.Clause() + `
ORDER BY a.date, a.id`

	rs, err := l.store.RunTabular(ctx, sql, c.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	rows := make([]HistoryRow, 0, rs.Len())
	for _, r := range rs.Rows {
		d, ok := r.Time("date")
		if !ok {
			continue
		}
		dept, _ := r.String("department")
		muni, _ := r.String("municipality")
		cat, _ := r.String("canonical_category")
		zone, _ := r.String("zone")
		rows = append(rows, HistoryRow{
			Date:         d,
			Department:   dept,
			Municipality: muni,
			Category:     cat,
			Zone:         zone,
			Attendees:    r.Float("total_attendees"),
		})
	}
	return rows, nil
}
