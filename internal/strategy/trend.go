package strategy

import "math"

// band positions
const (
	positionSupport    = "NEAR_SUPPORT"
	positionResistance = "NEAR_RESISTANCE"
	positionRange      = "WITHIN_RANGE"
)

// fibTolerance is how close, as a fraction of the level, price must be
const fibTolerance = 0.01

// TrendInputs are the indicator readings ClassifyTrend combines
type TrendInputs struct {
	Price     float64
	Bands     BollingerBandsResult
	Fib       FibonacciLevels
	RSI       float64
	SMA       Direction
	EMA       Direction
	Histogram float64
}

// ClassifyTrend applies, in order: band and Fibonacci proximity, moving
// average agreement, then RSI extremes. Each later stage overrides the
// previous one.
func ClassifyTrend(in TrendInputs) Trend {
	bollinger := bollingerPosition(in.Price, in.Bands)
	fib := fibonacciPosition(in.Price, in.Fib)

	trend := TrendNeutral
	if bollinger == positionSupport || fib == positionSupport {
		trend = TrendSupport
	} else if bollinger == positionResistance || fib == positionResistance {
		trend = TrendResistance
	}

	if in.SMA == DirectionUp && in.EMA == DirectionUp && in.Histogram > 0 {
		trend = TrendUp
	} else if in.SMA == DirectionDown && in.EMA == DirectionDown && in.Histogram < 0 {
		trend = TrendDown
	}

	if in.RSI > 80 {
		trend = TrendOverbought
	} else if in.RSI < 20 {
		trend = TrendOversold
	}
	return trend
}

func bollingerPosition(price float64, bands BollingerBandsResult) string {
	if bands.Upper == 0 && bands.Lower == 0 {
		return positionRange
	}
	if price <= bands.Lower {
		return positionSupport
	}
	if price >= bands.Upper {
		return positionResistance
	}
	return positionRange
}

// fibonacciPosition scans levels from 76.4% down and reports the first one
// within tolerance that is a support (<=23.6%) or resistance (>=76.4%)
func fibonacciPosition(price float64, fib FibonacciLevels) string {
	for _, l := range fib.ordered() {
		if l.price == 0 {
			continue
		}
		if math.Abs(price-l.price)/l.price > fibTolerance {
			continue
		}
		if l.pct <= 23.6 {
			return positionSupport
		}
		if l.pct >= 76.4 {
			return positionResistance
		}
	}
	return positionRange
}
