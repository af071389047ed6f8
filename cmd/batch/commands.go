package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/territorial-engagement/backend/internal/api/handlers"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/evaluation"
	"github.com/territorial-engagement/backend/internal/prioritize"
)

func bindFilter(fs *pflag.FlagSet) *handlers.FilterRequest {
	r := &handlers.FilterRequest{}
	fs.StringVar(&r.StartDate, "start-date", "", "first day included (YYYY-MM-DD)")
	fs.StringVar(&r.EndDate, "end-date", "", "last day included (YYYY-MM-DD)")
	fs.StringVar(&r.Year, "year", "", "calendar year")
	fs.StringVar(&r.Month, "month", "", "calendar month 1-12")
	fs.StringVar(&r.Zone, "zone", "", "operational zone")
	fs.StringVar(&r.Department, "department", "", "department name")
	fs.StringVar(&r.Municipality, "municipality", "", "municipality name")
	fs.StringVar(&r.CanonicalCategory, "category", "", "canonical activity category")
	fs.StringVar(&r.InterestGroup, "interest-group", "", "interest group")
	fs.StringVar(&r.InterventionGroup, "intervention-group", "", "intervention group")
	fs.StringVar(&r.Contract, "contract", "", "contract identifier")
	fs.StringVar(&r.GeometryKind, "geometry-kind", "", "vereda, cabecera, municipio or departamento")
	return r
}

func parseFilter(fs *pflag.FlagSet, r *handlers.FilterRequest, args []string) (domain.Filter, error) {
	if err := fs.Parse(args); err != nil {
		return domain.Filter{}, err
	}
	if fs.NArg() > 0 {
		return domain.Filter{}, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	return r.Filter()
}

func runKPI(ctx context.Context, e *engine.Engine, args []string) (interface{}, error) {
	fs := newFlagSet("kpi")
	req := bindFilter(fs)
	dashboard := fs.Bool("dashboard", false, "print the full dashboard instead of the KPIs")

	f, err := parseFilter(fs, req, args)
	if err != nil {
		return nil, err
	}
	if *dashboard {
		return e.Dashboard(ctx, f)
	}
	return e.KPI(ctx, f)
}

func runForecast(ctx context.Context, e *engine.Engine, args []string) (interface{}, error) {
	fs := newFlagSet("forecast")
	req := bindFilter(fs)
	horizon := fs.Int("horizon", 6, "months to project past the current month")

	f, err := parseFilter(fs, req, args)
	if err != nil {
		return nil, err
	}
	return e.Forecast(ctx, f, *horizon)
}

func runPrioritize(ctx context.Context, e *engine.Engine, args []string) (interface{}, error) {
	fs := newFlagSet("prioritize")
	req := bindFilter(fs)
	activityType := fs.String("activity-type", "", "activity type selecting the weight profile")
	target := fs.Int("target", 0, "activities to distribute; 0 keeps the current total")

	f, err := parseFilter(fs, req, args)
	if err != nil {
		return nil, err
	}
	if *target < 0 {
		return nil, fmt.Errorf("target must not be negative")
	}
	return e.Prioritize(ctx, prioritize.Request{Filter: f, ActivityType: *activityType, Target: *target})
}

func runPredict(ctx context.Context, e *engine.Engine, args []string) (interface{}, error) {
	fs := newFlagSet("predict")
	req := handlers.PredictRequest{}
	fs.StringVar(&req.Department, "department", "", "department name")
	fs.StringVar(&req.Municipality, "municipality", "", "municipality name")
	fs.StringVar(&req.Zone, "zone", "", "operational zone")
	fs.StringVar(&req.CanonicalCategory, "category", "", "canonical activity category")
	fs.StringVar(&req.Date, "date", "", "planned date (YYYY-MM-DD)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	pr, err := req.Domain()
	if err != nil {
		return nil, err
	}
	return e.PredictAttendance(ctx, pr)
}

func runBacktest(ctx context.Context, e *engine.Engine, args []string) (interface{}, error) {
	fs := newFlagSet("backtest")
	holdout := fs.Int("holdout", 6, "trailing months held out of every series")
	format := fs.String("format", "json", "output format: json or text")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *format != "json" && *format != "text" {
		return nil, fmt.Errorf("unknown format %q", *format)
	}

	report, err := e.Backtest(ctx, *holdout)
	if err != nil {
		return nil, err
	}
	if *format == "text" {
		return textResult(evaluation.GenerateReport(report)), nil
	}
	return report, nil
}
