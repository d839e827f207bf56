package strategy

import (
	"fmt"
	"math"
)

// DivergenceType is the direction a divergence points to
type DivergenceType string

const (
	DivergenceBullish DivergenceType = "BULLISH"
	DivergenceBearish DivergenceType = "BEARISH"
)

// Strength grades a divergence by the combined size of both moves
type Strength string

const (
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// Peak is a local extreme of a series
type Peak struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
	high  bool
}

// Divergence is one price/indicator disagreement between consecutive peaks
type Divergence struct {
	Type          DivergenceType `json:"type"`
	Strength      Strength       `json:"strength"`
	Confirmed     bool           `json:"confirmed"`
	PricePeak     Peak           `json:"pricePeak"`
	IndicatorPeak Peak           `json:"indicatorPeak"`
}

func (d Divergence) String() string {
	conf := "unconfirmed"
	if d.Confirmed {
		conf = "confirmed"
	}
	return fmt.Sprintf("%s %s %s", d.Type, d.Strength, conf)
}

// FindPeaks marks points strictly above or below both neighbours
func FindPeaks(values []float64) []Peak {
	var peaks []Peak
	for i := 1; i < len(values)-1; i++ {
		switch {
		case values[i] > values[i-1] && values[i] > values[i+1]:
			peaks = append(peaks, Peak{Index: i, Value: values[i], high: true})
		case values[i] < values[i-1] && values[i] < values[i+1]:
			peaks = append(peaks, Peak{Index: i, Value: values[i]})
		}
	}
	return peaks
}

func splitPeaks(peaks []Peak) (highs, lows []Peak) {
	for _, p := range peaks {
		if p.high {
			highs = append(highs, p)
		} else {
			lows = append(lows, p)
		}
	}
	return highs, lows
}

// CheckDivergence pairs the n-th price peak with the n-th indicator peak.
// Bearish: price higher high, indicator lower high. Bullish: price lower
// low, indicator higher low.
func CheckDivergence(prices, indicator []float64, currentPrice float64) []Divergence {
	priceHighs, priceLows := splitPeaks(FindPeaks(prices))
	indHighs, indLows := splitPeaks(FindPeaks(indicator))

	var out []Divergence

	n := min(len(priceHighs), len(indHighs))
	for i := 1; i < n; i++ {
		prevP, currP := priceHighs[i-1], priceHighs[i]
		prevI, currI := indHighs[i-1], indHighs[i]
		if currP.Value > prevP.Value && currI.Value < prevI.Value {
			out = append(out, Divergence{
				Type:          DivergenceBearish,
				Strength:      evaluateStrength(currP.Value-prevP.Value, prevI.Value-currI.Value),
				Confirmed:     currentPrice < currI.Value,
				PricePeak:     currP,
				IndicatorPeak: currI,
			})
		}
	}

	n = min(len(priceLows), len(indLows))
	for i := 1; i < n; i++ {
		prevP, currP := priceLows[i-1], priceLows[i]
		prevI, currI := indLows[i-1], indLows[i]
		if currP.Value < prevP.Value && currI.Value > prevI.Value {
			out = append(out, Divergence{
				Type:          DivergenceBullish,
				Strength:      evaluateStrength(prevP.Value-currP.Value, currI.Value-prevI.Value),
				Confirmed:     currentPrice > currI.Value,
				PricePeak:     currP,
				IndicatorPeak: currI,
			})
		}
	}
	return out
}

func evaluateStrength(priceDelta, indicatorDelta float64) Strength {
	score := math.Abs(priceDelta) + math.Abs(indicatorDelta)
	switch {
	case score > 20:
		return StrengthStrong
	case score > 10:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Confirmation is the dual RSI/MACD divergence verdict. It is advisory and
// never changes the primary decision.
type Confirmation struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// ConfirmDivergence returns BUY or SELL when an RSI divergence and a MACD
// divergence of the same type are both confirmed and not weak
func ConfirmDivergence(prices, rsi, macdLine []float64, currentPrice float64) Confirmation {
	rsiSignals := CheckDivergence(prices, rsi, currentPrice)
	macdSignals := CheckDivergence(prices, macdLine, currentPrice)

	for _, r := range rsiSignals {
		if !r.Confirmed || r.Strength == StrengthWeak {
			continue
		}
		for _, m := range macdSignals {
			if m.Type != r.Type || !m.Confirmed || m.Strength == StrengthWeak {
				continue
			}
			action := ActionSell
			if r.Type == DivergenceBullish {
				action = ActionBuy
			}
			return Confirmation{
				Action: action,
				Reason: fmt.Sprintf("confirmed %s divergence (RSI %s | MACD %s)", r.Type, r, m),
			}
		}
	}
	return Confirmation{Action: ActionHold, Reason: "no confirmed dual divergence"}
}
