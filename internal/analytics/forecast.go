package analytics

import (
	"math"
	"sort"
	"time"
)

// ForecastMethod names how a projection was produced.
type ForecastMethod string

const (
	MethodEMA ForecastMethod = "ema"
	MethodOLS ForecastMethod = "ols"
)

// Forecast is a projected spend over a future horizon with a
// confidence interval.
type Forecast struct {
	HorizonDays   int
	ProjectedCost float64
	LowerBound    float64
	UpperBound    float64
	DailyRate     float64
	Method        ForecastMethod
}

// dailyCosts returns the retained spend bucketed by calendar day in
// chronological order. Days with no traffic inside the observed span
// appear as zeros so the regression sees real gaps.
func (e *Engine) dailyCosts() []float64 {
	events := e.agg.Events(time.Time{})
	if len(events) == 0 {
		return nil
	}

	byDay := make(map[string]float64)
	var days []string
	for _, ev := range events {
		day := ev.Timestamp.UTC().Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] += ev.CostUSD
	}
	sort.Strings(days)

	first, _ := time.Parse("2006-01-02", days[0])
	last, _ := time.Parse("2006-01-02", days[len(days)-1])

	var out []float64
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, byDay[d.Format("2006-01-02")])
	}
	return out
}

// ForecastCost projects spend horizonDays ahead. Short horizons, up to
// the EMA span, use an exponential moving average of the daily series;
// longer horizons fit a least-squares trend line. The interval is the
// projection plus or minus z times the residual standard deviation
// scaled by the horizon.
func (e *Engine) ForecastCost(horizonDays int) Forecast {
	if horizonDays <= 0 {
		horizonDays = 1
	}
	daily := e.dailyCosts()
	if len(daily) == 0 {
		return Forecast{HorizonDays: horizonDays, Method: MethodEMA}
	}

	var (
		rate      float64
		residuals []float64
		method    ForecastMethod
		projected float64
	)

	if horizonDays <= e.cfg.EMASpanDays || len(daily) < 3 {
		method = MethodEMA
		alpha := 2.0 / (float64(e.cfg.EMASpanDays) + 1)
		ema := daily[0]
		for _, v := range daily[1:] {
			residuals = append(residuals, v-ema)
			ema = alpha*v + (1-alpha)*ema
		}
		rate = ema
		projected = rate * float64(horizonDays)
	} else {
		method = MethodOLS
		slope, intercept := leastSquares(daily)
		for i, v := range daily {
			residuals = append(residuals, v-(intercept+slope*float64(i)))
		}
		n := float64(len(daily))
		for d := 1; d <= horizonDays; d++ {
			projected += intercept + slope*(n-1+float64(d))
		}
		if projected < 0 {
			projected = 0
		}
		rate = projected / float64(horizonDays)
	}

	margin := e.cfg.ZScore * stddev(residuals) * math.Sqrt(float64(horizonDays))
	lower := projected - margin
	if lower < 0 {
		lower = 0
	}
	return Forecast{
		HorizonDays:   horizonDays,
		ProjectedCost: projected,
		LowerBound:    lower,
		UpperBound:    projected + margin,
		DailyRate:     rate,
		Method:        method,
	}
}

// leastSquares fits y = intercept + slope*x over x = 0..n-1.
func leastSquares(y []float64) (slope, intercept float64) {
	n := float64(len(y))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}
