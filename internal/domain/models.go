package domain

import "time"

type Activity struct {
	ID                int64     `json:"id" db:"id"`
	Contract          *string   `json:"contract" db:"contract"`
	Date              time.Time `json:"date" db:"date"`
	Zone              *string   `json:"zone" db:"zone"`
	Department        string    `json:"department" db:"department"`
	Municipality      *string   `json:"municipality" db:"municipality"`
	InterestGroup     *string   `json:"interest_group" db:"interest_group"`
	InterventionGroup *string   `json:"intervention_group" db:"intervention_group"`
	ActivityCategory  *string   `json:"activity_category" db:"activity_category"`
	CanonicalCategory *string   `json:"canonical_category" db:"canonical_category"`
	TotalAttendees    int64     `json:"total_attendees" db:"total_attendees"`
	GeometryKind      *string   `json:"geometry_kind" db:"geometry_kind"`
}

type KPI struct {
	TotalActivities        int64   `json:"total_activities"`
	TotalAttendees         int64   `json:"total_attendees"`
	DistinctMunicipalities int64   `json:"distinct_municipalities"`
	ActiveMonths           int64   `json:"active_months"`
	DistinctZones          int64   `json:"distinct_zones"`
	DistinctInterestGroups int64   `json:"distinct_interest_groups"`
	MeanAttendees          float64 `json:"mean_attendees"`
	DistinctContracts      int64   `json:"distinct_contracts"`
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

type PredictionRequest struct {
	Department        string    `json:"department"`
	Municipality      string    `json:"municipality"`
	Zone              string    `json:"zone"`
	CanonicalCategory string    `json:"canonical_category"`
	Date              time.Time `json:"date"`
}

// HistoricalContext is the snapshot of history that shaped a prediction.
type HistoricalContext struct {
	Scope          string  `json:"scope"`
	PriorRows      int     `json:"prior_rows"`
	CategoryRows   int     `json:"category_rows"`
	DepartmentRows int     `json:"department_rows"`
	CategoryMean   float64 `json:"category_mean"`
	CategoryMedian float64 `json:"category_median"`
	CategoryStd    float64 `json:"category_std"`
	CategoryMin    float64 `json:"category_min"`
	CategoryMax    float64 `json:"category_max"`
	RollingMean30  float64 `json:"rolling_mean_30"`
	SameMonthMean  float64 `json:"same_month_mean"`
	SameDayMean    float64 `json:"same_day_mean"`
	MonthDeviation float64 `json:"month_deviation"`
	DayDeviation   float64 `json:"day_deviation"`
	DepartmentMean float64 `json:"department_mean"`
}

type PredictionResult struct {
	ID                 string             `json:"id"`
	PredictedAttendees int64              `json:"predicted_attendees"`
	BaseEstimate       float64            `json:"base_estimate"`
	Confidence         Confidence         `json:"confidence"`
	FeatureImportance  map[string]float64 `json:"feature_importance"`
	ModelImportance    map[string]float64 `json:"model_importance,omitempty"`
	History            HistoricalContext  `json:"history"`
	InsufficientData   bool               `json:"insufficient_data"`
	ModelVersion       string             `json:"model_version"`
	FeatureListVersion string             `json:"feature_list_version"`
}

type ForecastPeriod struct {
	Period  time.Time `json:"period"`
	Point   float64   `json:"point"`
	Lower   float64   `json:"lower"`
	Upper   float64   `json:"upper"`
	GapFill bool      `json:"gap_fill"`
}

type Forecast struct {
	ScopeKey       string           `json:"scope_key,omitempty"`
	ModelKind      string           `json:"model_kind,omitempty"`
	ModelVersion   string           `json:"model_version,omitempty"`
	RMSE           float64          `json:"rmse,omitempty"`
	LastObserved   *time.Time       `json:"last_observed,omitempty"`
	GapMonths      int              `json:"gap_months"`
	HorizonMonths  int              `json:"horizon_months"`
	Periods        []ForecastPeriod `json:"periods"`
	NoData         bool             `json:"no_data"`
	Baseline       bool             `json:"baseline"`
	RejectedScopes []string         `json:"rejected_scopes,omitempty"`
}

type Action string

const (
	ActionIncrease Action = "Increase"
	ActionMaintain Action = "Maintain"
	ActionReduce   Action = "Reduce"
)

type PriorityClass string

const (
	PriorityHigh   PriorityClass = "High"
	PriorityMedium PriorityClass = "Medium"
	PriorityLow    PriorityClass = "Low"
)

type PriorityScore struct {
	Department          string        `json:"department"`
	Municipality        string        `json:"municipality"`
	InterestGroup       *string       `json:"interest_group,omitempty"`
	Activities          float64       `json:"activities"`
	Attendees           float64       `json:"attendees"`
	Efficiency          float64       `json:"efficiency"`
	RawScore            float64       `json:"raw_score"`
	NormalizedScore     float64       `json:"normalized_score"`
	CurrentActivities   int           `json:"current_activities"`
	SuggestedActivities int           `json:"suggested_activities"`
	Delta               int           `json:"delta"`
	Action              Action        `json:"action"`
	Priority            PriorityClass `json:"priority"`
	Cluster             *int          `json:"cluster,omitempty"`
	DensityRegion       *int          `json:"density_region,omitempty"`
}

type ClusterProfile struct {
	ID      int                `json:"id"`
	Size    int                `json:"size"`
	Means   map[string]float64 `json:"means"`
	Members []string           `json:"members"`
}

type Weights struct {
	Activities float64 `json:"activities" yaml:"activities"`
	Attendees  float64 `json:"attendees" yaml:"attendees"`
	Efficiency float64 `json:"efficiency" yaml:"efficiency"`
}

func (w Weights) Sum() float64 {
	return w.Activities + w.Attendees + w.Efficiency
}

type PriorityTable struct {
	ID              string                     `json:"id"`
	ActivityType    string                     `json:"activity_type,omitempty"`
	Weights         Weights                    `json:"weights"`
	EffectiveTarget int                        `json:"effective_target"`
	CurrentTotal    int                        `json:"current_total"`
	Municipalities  []PriorityScore            `json:"municipalities"`
	InterestGroups  map[string][]PriorityScore `json:"interest_groups,omitempty"`
	Clusters        []ClusterProfile           `json:"clusters,omitempty"`
	ClusterModel    string                     `json:"cluster_model,omitempty"`
	DensityApplied  bool                       `json:"density_applied"`
}

// MonthlyPoint is one month of the activity series, keyed by the first day
// of the month.
type MonthlyPoint struct {
	Period     time.Time `json:"period"`
	Activities float64   `json:"activities"`
	Attendees  float64   `json:"attendees"`
}
