package aggregation

import (
	"fmt"

	"github.com/territorial-engagement/backend/internal/filter"
)

// The statements below are the only SQL text the service composes. The
// filter contributes a bound WHERE clause; nothing else is interpolated.

const meanExpr = "COALESCE(ROUND(AVG(a.total_attendees), 2), 0)"

func kpiSQL(c filter.Compiled) string {
	return `SELECT
	COUNT(*) AS total_activities,
	COALESCE(SUM(a.total_attendees), 0) AS total_attendees,
	COUNT(DISTINCT a.municipality) AS distinct_municipalities,
	COUNT(DISTINCT to_char(a.date, 'YYYY-MM')) AS active_months,
	COUNT(DISTINCT a.zone) AS distinct_zones,
	COUNT(DISTINCT a.interest_group) AS distinct_interest_groups,
	` + meanExpr + ` AS mean_attendees,
	COUNT(DISTINCT a.contract) AS distinct_contracts
FROM activities a` + c.Clause()
}

func countSQL(c filter.Compiled) string {
	return "SELECT COUNT(*) AS total_activities FROM activities a" + c.Clause()
}

func detailSQL(c filter.Compiled) string {
	return `SELECT
	a.id, a.contract, a.date, a.zone, a.department, a.municipality,
	a.interest_group, a.location, a.intervention_group, a.activity_description,
	a.activity_category, a.canonical_category, a.total_attendees, a.geometry_kind
FROM activities a` + c.Clause() + `
ORDER BY a.date, a.id`
}

func temporalSQL(c filter.Compiled) string {
	return `SELECT
	CAST(EXTRACT(ISOYEAR FROM a.date) AS integer) AS iso_year,
	CAST(EXTRACT(WEEK FROM a.date) AS integer) AS iso_week,
	CAST(date_trunc('week', a.date) AS date) AS week_start,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees,
	COUNT(DISTINCT a.municipality) AS distinct_municipalities,
	COUNT(DISTINCT a.interest_group) AS distinct_interest_groups,
	` + meanExpr + ` AS mean_attendees
FROM activities a` + c.Clause() + `
GROUP BY 1, 2, 3
ORDER BY 1, 2`
}

func distributionSQL(c filter.Compiled) string {
	return `SELECT
	a.municipality,
	a.department,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees,
	` + meanExpr + ` AS mean_attendees,
	CAST(percentile_cont(0.5) WITHIN GROUP (ORDER BY a.total_attendees) AS double precision) AS median_attendees,
	MIN(a.total_attendees) AS min_attendees,
	MAX(a.total_attendees) AS max_attendees,
	COALESCE(ROUND(STDDEV_SAMP(a.total_attendees), 2), 0) AS std_attendees
FROM activities a` + c.Clause() + `
GROUP BY a.municipality, a.department
ORDER BY a.department, a.municipality`
}

func comparativeSQL(c filter.Compiled) string {
	return `SELECT
	a.zone,
	a.department,
	a.canonical_category,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees,
	COUNT(DISTINCT a.municipality) AS distinct_municipalities,
	COUNT(DISTINCT a.interest_group) AS distinct_interest_groups,
	COUNT(DISTINCT a.contract) AS distinct_contracts,
	` + meanExpr + ` AS mean_attendees
FROM activities a` + c.Clause() + `
GROUP BY a.zone, a.department, a.canonical_category
ORDER BY a.zone, a.department, a.canonical_category`
}

func monthlySQL(c filter.Compiled) string {
	return `SELECT
	CAST(date_trunc('month', a.date) AS date) AS period,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees
FROM activities a` + c.Clause() + `
GROUP BY 1
ORDER BY 1`
}

const efficiencyExpr = "CAST(COALESCE(SUM(a.total_attendees), 0) AS double precision) / NULLIF(COUNT(*), 0)"

func municipalityMetricsSQL(c filter.Compiled) string {
	c = c.With(nil, "a.municipality IS NOT NULL")
	return `SELECT
	a.department,
	a.municipality,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees,
	COALESCE(` + efficiencyExpr + `, 0) AS efficiency
FROM activities a` + c.Clause() + `
GROUP BY a.department, a.municipality
ORDER BY a.department, a.municipality`
}

func interestGroupMetricsSQL(c filter.Compiled) string {
	c = c.With(nil, "a.municipality IS NOT NULL", "a.interest_group IS NOT NULL")
	return `SELECT
	a.department,
	a.municipality,
	a.interest_group,
	COUNT(*) AS activities,
	COALESCE(SUM(a.total_attendees), 0) AS attendees,
	COALESCE(` + efficiencyExpr + `, 0) AS efficiency
FROM activities a` + c.Clause() + `
GROUP BY a.department, a.municipality, a.interest_group
ORDER BY a.department, a.municipality, a.interest_group`
}

// Polygon levels join the aggregate onto the administrative layer and
// simplify with a tolerance proportional to the layer's extent.

const toleranceParam = "tolerance_factor"

func polygonLevelSQL(c filter.Compiled, table string, keys []string) string {
	groupCols := ""
	joinCond := ""
	selectCols := ""
	for i, k := range keys {
		if i > 0 {
			groupCols += ", "
			joinCond += " AND "
			selectCols += ", "
		}
		groupCols += "a." + k
		joinCond += fmt.Sprintf("agg.%s = p.%s", k, k)
		selectCols += "p." + k
	}

	return `WITH agg AS (
	SELECT ` + groupCols + `,
		COUNT(*) AS activities,
		COALESCE(SUM(a.total_attendees), 0) AS attendees
	FROM activities a` + c.Clause() + `
	GROUP BY ` + groupCols + `
), extent AS (
	SELECT GREATEST(ST_XMax(e) - ST_XMin(e), ST_YMax(e) - ST_YMin(e)) AS side
	FROM (SELECT ST_Extent(geometry) AS e FROM ` + table + `) x
)
SELECT ` + selectCols + `,
	agg.activities,
	agg.attendees,
	COALESCE(ROUND(CAST(agg.attendees AS numeric) / NULLIF(agg.activities, 0), 2), 0) AS mean_attendees,
	ST_AsGeoJSON(ST_SimplifyPreserveTopology(p.geometry, COALESCE(extent.side, 0) * :` + toleranceParam + `)) AS geometry
FROM ` + table + ` p
JOIN agg ON ` + joinCond + `
CROSS JOIN extent
ORDER BY ` + selectCols
}

const levelKindParam = "level_geometry_kind"

// fineLevelSQL groups activities that carry their own vereda or cabecera
// polygon.
func fineLevelSQL(c filter.Compiled) string {
	c = c.With(nil, "a.geometry_kind = :"+levelKindParam, "a.geometry IS NOT NULL")
	return `WITH agg AS (
	SELECT
		a.department,
		a.municipality,
		a.location,
		COUNT(*) AS activities,
		COALESCE(SUM(a.total_attendees), 0) AS attendees,
		ST_Union(a.geometry) AS geometry
	FROM activities a` + c.Clause() + `
	GROUP BY a.department, a.municipality, a.location
), extent AS (
	SELECT GREATEST(ST_XMax(e) - ST_XMin(e), ST_YMax(e) - ST_YMin(e)) AS side
	FROM (SELECT ST_Extent(geometry) AS e FROM agg) x
)
SELECT
	agg.department,
	agg.municipality,
	agg.location,
	agg.activities,
	agg.attendees,
	COALESCE(ROUND(CAST(agg.attendees AS numeric) / NULLIF(agg.activities, 0), 2), 0) AS mean_attendees,
	ST_AsGeoJSON(ST_SimplifyPreserveTopology(agg.geometry, COALESCE(extent.side, 0) * :` + toleranceParam + `)) AS geometry
FROM agg
CROSS JOIN extent
ORDER BY agg.department, agg.municipality, agg.location`
}
