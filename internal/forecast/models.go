package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/territorial-engagement/backend/internal/artifacts"
)

const seasonLength = 12

// Estimate is one projected month: the point forecast and its standard
// error.
type Estimate struct {
	Point  float64
	StdErr float64
}

// Project runs a fitted model forward steps months past the end of
// history. start is the month of history[0].
func Project(m *artifacts.ForecastModel, history []float64, start time.Time, steps int) ([]Estimate, error) {
	if steps <= 0 {
		return nil, nil
	}
	switch m.Kind {
	case artifacts.KindSARIMA:
		return projectSARIMA(m.SARIMA, history, steps)
	case artifacts.KindAdditive:
		return projectAdditive(m.Additive, start, len(history), steps), nil
	}
	return nil, fmt.Errorf("unknown model kind %q", m.Kind)
}

// projectSARIMA folds the differencing into one AR polynomial over the raw
// series, recovers in-sample innovations by conditional recursion and
// forecasts with future innovations set to zero. Forecast variance uses
// the psi weights of the combined polynomials.
func projectSARIMA(p *artifacts.SARIMAParams, history []float64, steps int) ([]Estimate, error) {
	ar := []float64{1}
	for i := 0; i < p.D; i++ {
		ar = polyMul(ar, []float64{1, -1})
	}
	for i := 0; i < p.SeasonalD; i++ {
		ar = polyMul(ar, seasonalPoly(p.Period, []float64{1}, -1))
	}
	ar = polyMul(ar, lagPoly(p.AR, -1))
	ar = polyMul(ar, seasonalPoly(p.Period, p.SeasonalAR, -1))

	ma := polyMul(lagPoly(p.MA, 1), seasonalPoly(p.Period, p.SeasonalMA, 1))

	order := len(ar) - 1
	if len(history) <= order {
		return nil, fmt.Errorf("series of %d months is too short for a model of order %d", len(history), order)
	}

	// y_t = c + sum a_i y_{t-i} + e_t + sum b_j e_{t-j}
	a := make([]float64, len(ar))
	for i := 1; i < len(ar); i++ {
		a[i] = -ar[i]
	}

	n := len(history)
	y := make([]float64, n, n+steps)
	copy(y, history)
	e := make([]float64, n+steps)

	predict := func(t int) float64 {
		v := p.Intercept
		for i := 1; i < len(a); i++ {
			v += a[i] * y[t-i]
		}
		for j := 1; j < len(ma) && t-j >= 0; j++ {
			v += ma[j] * e[t-j]
		}
		return v
	}

	sse, count := 0.0, 0
	for t := order; t < n; t++ {
		e[t] = y[t] - predict(t)
		sse += e[t] * e[t]
		count++
	}

	sigma2 := p.Sigma2
	if sigma2 == 0 && count > 0 {
		sigma2 = sse / float64(count)
	}

	psi := make([]float64, steps)
	psi[0] = 1
	for j := 1; j < steps; j++ {
		v := 0.0
		if j < len(ma) {
			v = ma[j]
		}
		for i := 1; i <= j && i < len(a); i++ {
			v += a[i] * psi[j-i]
		}
		psi[j] = v
	}

	out := make([]Estimate, steps)
	cum := 0.0
	for k := 0; k < steps; k++ {
		t := n + k
		y = append(y, predict(t))
		cum += psi[k] * psi[k]
		out[k] = Estimate{Point: y[t], StdErr: math.Sqrt(sigma2 * cum)}
	}
	return out, nil
}

// lagPoly returns 1 + sign*(c1 B + c2 B^2 + ...).
func lagPoly(coeffs []float64, sign float64) []float64 {
	out := make([]float64, len(coeffs)+1)
	out[0] = 1
	for i, c := range coeffs {
		out[i+1] = sign * c
	}
	return out
}

// seasonalPoly returns 1 + sign*(c1 B^s + c2 B^2s + ...).
func seasonalPoly(period int, coeffs []float64, sign float64) []float64 {
	if len(coeffs) == 0 || period < 1 {
		return []float64{1}
	}
	out := make([]float64, len(coeffs)*period+1)
	out[0] = 1
	for i, c := range coeffs {
		out[(i+1)*period] = sign * c
	}
	return out
}

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// projectAdditive evaluates a piecewise-linear trend plus yearly Fourier
// seasonality. The interval widens with the distance from the last
// observation.
func projectAdditive(p *artifacts.AdditiveParams, start time.Time, observed, steps int) []Estimate {
	origin := p.Start
	if origin.IsZero() {
		origin = start
	}
	offset := float64(monthsBetween(monthStart(origin), monthStart(start)))

	out := make([]Estimate, steps)
	for k := 0; k < steps; k++ {
		t := offset + float64(observed+k)
		out[k] = Estimate{
			Point:  additiveAt(p, t),
			StdErr: p.Sigma * math.Sqrt(1+float64(k)/seasonLength),
		}
	}
	return out
}

func additiveAt(p *artifacts.AdditiveParams, t float64) float64 {
	k, m := p.K, p.M
	for i, cp := range p.Changepoints {
		if t >= cp {
			k += p.Deltas[i]
			m -= cp * p.Deltas[i]
		}
	}
	v := k*t + m

	for i := 0; i+1 < len(p.Fourier); i += 2 {
		order := float64(i/2 + 1)
		x := 2 * math.Pi * order * t / seasonLength
		v += p.Fourier[i]*math.Sin(x) + p.Fourier[i+1]*math.Cos(x)
	}
	return v
}

// SeasonalNaive repeats the value observed one season earlier. Series
// shorter than a season repeat their mean.
func SeasonalNaive(history []float64, steps int) []Estimate {
	out := make([]Estimate, steps)
	if len(history) == 0 || steps <= 0 {
		return out
	}

	if len(history) < seasonLength {
		mean, std := stat.PopMeanStdDev(history, nil)
		for k := range out {
			out[k] = Estimate{Point: mean, StdErr: std}
		}
		return out
	}

	diffs := make([]float64, 0, len(history)-seasonLength)
	for t := seasonLength; t < len(history); t++ {
		diffs = append(diffs, history[t]-history[t-seasonLength])
	}
	var sd float64
	if len(diffs) >= 2 {
		_, sd = stat.PopMeanStdDev(diffs, nil)
	} else {
		_, sd = stat.PopMeanStdDev(history, nil)
	}

	ext := append([]float64(nil), history...)
	for k := 0; k < steps; k++ {
		v := ext[len(ext)-seasonLength]
		ext = append(ext, v)
		out[k] = Estimate{Point: v, StdErr: sd * math.Sqrt(float64(k/seasonLength+1))}
	}
	return out
}
