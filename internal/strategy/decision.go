package strategy

// Decision is the result of one evaluation
type Decision struct {
	Action       Action               `json:"action"`
	Trend        Trend                `json:"trend"`
	RSI          float64              `json:"rsi"`
	Bands        BollingerBandsResult `json:"bollingerBands"`
	Fibonacci    FibonacciLevels      `json:"fibonacciLevels"`
	MACD         MACDPoint            `json:"macd"`
	Confirmation Confirmation         `json:"confirmation"`
}

// Decide is a pure function of its inputs. prices must hold enough closes
// for the slowest indicator; shorter series yield HOLD.
func Decide(prices []float64, currentPrice, entryPrice float64, th Thresholds) Decision {
	th = th.withDefaults()

	rsiSeries := RSI(prices, th.RSIPeriod)
	macd := MACD(prices, th.MACDFast, th.MACDSlow, th.MACDSignal)
	if len(rsiSeries) == 0 || len(macd.Histogram) == 0 || len(prices) < th.BBPeriod {
		return Decision{Action: ActionHold, Trend: TrendNeutral}
	}

	d := Decision{
		RSI:       rsiSeries[len(rsiSeries)-1],
		Bands:     BollingerBands(prices, th.BBPeriod, th.BBMultiplier),
		Fibonacci: CalculateFibonacciLevels(prices),
		MACD:      macd.Last(),
	}
	d.Trend = ClassifyTrend(TrendInputs{
		Price:     currentPrice,
		Bands:     d.Bands,
		Fib:       d.Fibonacci,
		RSI:       d.RSI,
		SMA:       SeriesDirection(SMA(prices, th.SMAPeriod)),
		EMA:       SeriesDirection(EMA(prices, th.EMAPeriod)),
		Histogram: d.MACD.Histogram,
	})
	d.Confirmation = ConfirmDivergence(prices, rsiSeries, macd.Line, currentPrice)
	d.Action = chooseAction(d, currentPrice, entryPrice, th)
	return d
}

// CheckStopLoss is true once the open position lost maxLoss, or when price
// breaks the lower band while RSI is below 20
func CheckStopLoss(currentPrice, entryPrice, lowerBand, rsi, maxLoss float64) bool {
	if entryPrice <= 0 {
		return false
	}
	if (entryPrice-currentPrice)/entryPrice >= maxLoss {
		return true
	}
	return currentPrice < lowerBand && rsi < 20
}

func chooseAction(d Decision, price, entry float64, th Thresholds) Action {
	if CheckStopLoss(price, entry, d.Bands.Lower, d.RSI, th.MaxLoss) {
		return ActionStopLoss
	}

	switch {
	case d.RSI > th.RSIHigh && entry > 0:
		return overboughtAction(d, price, entry, th)
	case d.RSI < th.RSILow:
		return oversoldAction(d, price, entry)
	}
	return ActionHold
}

// overboughtAction handles RSI above the high threshold with an open position
func overboughtAction(d Decision, price, entry float64, th Thresholds) Action {
	switch {
	case d.Trend == TrendDown:
		return ActionDownTrend
	case d.Trend == TrendResistance && price > d.Fibonacci.Level764:
		if (price-entry)/entry > th.MinProfit {
			return ActionSell
		}
		return ActionGaze
	case entry < price:
		if d.Trend == TrendOverbought {
			return ActionOverBought
		}
		if d.Trend == TrendUp && d.Bands.PB > 1.2 {
			if d.RSI > 75 {
				return ActionSell
			}
			return ActionGaze
		}
	}
	return ActionHodl
}

// oversoldAction handles RSI below the low threshold. BUCKET asks the
// operator to step in only for a DOWNTREND pair with no position, RSI in
// 20..25 and price under the lower band.
func oversoldAction(d Decision, price, entry float64) Action {
	switch {
	case d.Trend == TrendSupport && price < d.Fibonacci.Level236:
		return ActionBuy
	case d.Trend == TrendDown && entry > 0:
		return ActionDownTrend
	case d.Trend == TrendDown && entry == 0 && d.RSI >= 20 && d.RSI <= 25 && price < d.Bands.Lower:
		return ActionBucket
	}
	return ActionGaze
}
