package strategy

import (
	"math"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA returns the simple moving average series. The result has
// len(values)-period+1 points, or none when values is too short.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average series seeded with the SMA of
// the first period values
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// SeriesDirection compares the last two points of a series. Anything
// other than a strict rise reads as down.
func SeriesDirection(series []float64) Direction {
	if len(series) < 2 {
		return DirectionDown
	}
	if series[len(series)-1] > series[len(series)-2] {
		return DirectionUp
	}
	return DirectionDown
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI returns the Wilder-smoothed relative strength index series with
// len(values)-period points
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDSeries holds the MACD line and its signal. Signal and Histogram are
// aligned to the tail of Line.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACDPoint is the newest MACD reading
type MACDPoint struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes EMA(fast)-EMA(slow) and an EMA signal of that line
func MACD(values []float64, fast, slow, signal int) MACDSeries {
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	if slowEMA == nil || fastEMA == nil {
		return MACDSeries{}
	}

	// fastEMA starts slow-fast points earlier than slowEMA
	offset := len(fastEMA) - len(slowEMA)
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	sig := EMA(line, signal)
	hist := make([]float64, len(sig))
	lineOffset := len(line) - len(sig)
	for i := range sig {
		hist[i] = line[i+lineOffset] - sig[i]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}
}

// Last returns the newest complete reading, zero when unavailable
func (m MACDSeries) Last() MACDPoint {
	if len(m.Histogram) == 0 {
		return MACDPoint{}
	}
	return MACDPoint{
		MACD:      m.Line[len(m.Line)-1],
		Signal:    m.Signal[len(m.Signal)-1],
		Histogram: m.Histogram[len(m.Histogram)-1],
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBandsResult is the newest band reading
type BollingerBandsResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	PB     float64 `json:"pb"` // percentB of the newest value
}

// BollingerBands computes bands over the last period values using the
// population standard deviation
func BollingerBands(values []float64, period int, multiplier float64) BollingerBandsResult {
	if period <= 0 || len(values) < period {
		return BollingerBandsResult{}
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period))

	r := BollingerBandsResult{
		Upper:  mean + multiplier*sd,
		Middle: mean,
		Lower:  mean - multiplier*sd,
	}
	last := values[len(values)-1]
	if width := r.Upper - r.Lower; width > 0 {
		r.PB = (last - r.Lower) / width
	} else {
		r.PB = 0.5
	}
	return r
}

// ============================================================================
// FIBONACCI RETRACEMENT
// ============================================================================

// FibonacciLevels holds retracement prices measured up from the series low
type FibonacciLevels struct {
	Level764 float64 `json:"76.4%"`
	Level618 float64 `json:"61.8%"`
	Level500 float64 `json:"50.0%"`
	Level382 float64 `json:"38.2%"`
	Level236 float64 `json:"23.6%"`
}

// fibLevel pairs a level percentage with its price
type fibLevel struct {
	pct   float64
	price float64
}

// ordered returns levels from the top of the range down
func (f FibonacciLevels) ordered() []fibLevel {
	return []fibLevel{
		{76.4, f.Level764},
		{61.8, f.Level618},
		{50.0, f.Level500},
		{38.2, f.Level382},
		{23.6, f.Level236},
	}
}

// CalculateFibonacciLevels derives levels from the high and low of values
func CalculateFibonacciLevels(values []float64) FibonacciLevels {
	if len(values) == 0 {
		return FibonacciLevels{}
	}
	high, low := values[0], values[0]
	for _, v := range values {
		high = math.Max(high, v)
		low = math.Min(low, v)
	}
	rng := high - low
	level := func(x float64) float64 { return high - rng*(1-x) }
	return FibonacciLevels{
		Level764: level(0.764),
		Level618: level(0.618),
		Level500: level(0.5),
		Level382: level(0.382),
		Level236: level(0.236),
	}
}
