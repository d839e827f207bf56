package strategy

import (
	"math"
	"reflect"
	"testing"
)

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 5*math.Sin(float64(i)/4) + 0.05*float64(i)
	}
	return out
}

// ===== TEST CASES: TREND CLASSIFICATION =====

func TestClassifyTrend(t *testing.T) {
	bands := BollingerBandsResult{Upper: 110, Middle: 100, Lower: 90}
	fib := CalculateFibonacciLevels([]float64{80, 120})

	tests := []struct {
		name string
		in   TrendInputs
		want Trend
	}{
		{
			name: "below lower band is support",
			in:   TrendInputs{Price: 89, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionUp, EMA: DirectionDown},
			want: TrendSupport,
		},
		{
			name: "above upper band is resistance",
			in:   TrendInputs{Price: 111, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionUp, EMA: DirectionDown},
			want: TrendResistance,
		},
		{
			name: "near 76.4 level is resistance",
			in:   TrendInputs{Price: fib.Level764 * 1.005, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionUp, EMA: DirectionDown},
			want: TrendResistance,
		},
		{
			name: "near 50 level stays neutral",
			in:   TrendInputs{Price: fib.Level500, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionUp, EMA: DirectionDown},
			want: TrendNeutral,
		},
		{
			name: "agreeing averages override bands",
			in:   TrendInputs{Price: 89, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionUp, EMA: DirectionUp, Histogram: 0.1},
			want: TrendUp,
		},
		{
			name: "downtrend needs negative histogram",
			in:   TrendInputs{Price: 100, Bands: bands, Fib: fib, RSI: 50, SMA: DirectionDown, EMA: DirectionDown, Histogram: -0.1},
			want: TrendDown,
		},
		{
			name: "rsi extreme wins",
			in:   TrendInputs{Price: 100, Bands: bands, Fib: fib, RSI: 85, SMA: DirectionDown, EMA: DirectionDown, Histogram: -0.1},
			want: TrendOverbought,
		},
		{
			name: "oversold",
			in:   TrendInputs{Price: 89, Bands: bands, Fib: fib, RSI: 15},
			want: TrendOversold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTrend(tt.in); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// ===== TEST CASES: STOP LOSS =====

func TestCheckStopLoss(t *testing.T) {
	if !CheckStopLoss(93.9, 100, 0, 50, 0.06) {
		t.Error("Expected stop-loss at 6.1% loss with 6% limit")
	}
	if CheckStopLoss(94.5, 100, 0, 50, 0.06) {
		t.Error("Expected no stop-loss at 5.5% loss")
	}
	if !CheckStopLoss(99, 100, 99.5, 15, 0.06) {
		t.Error("Expected stop-loss below lower band with RSI under 20")
	}
	if CheckStopLoss(50, 0, 100, 10, 0.06) {
		t.Error("Expected no stop-loss without an open position")
	}
}

// ===== TEST CASES: ACTION SELECTION =====

func TestChooseAction(t *testing.T) {
	th := DefaultThresholds()
	fib := FibonacciLevels{Level764: 176.4, Level618: 161.8, Level500: 150, Level382: 138.2, Level236: 123.6}
	bands := BollingerBandsResult{Upper: 160, Middle: 140, Lower: 120, PB: 0.5}

	tests := []struct {
		name  string
		d     Decision
		price float64
		entry float64
		want  Action
	}{
		{"stop loss first", Decision{RSI: 80, Trend: TrendUp, Bands: bands, Fibonacci: fib}, 93.9, 100, ActionStopLoss},
		{"support below 23.6 buys", Decision{RSI: 25, Trend: TrendSupport, Bands: bands, Fibonacci: fib}, 118, 0, ActionBuy},
		{"support above 23.6 gazes", Decision{RSI: 25, Trend: TrendSupport, Bands: bands, Fibonacci: fib}, 130, 0, ActionGaze},
		{"downtrend with position", Decision{RSI: 30, Trend: TrendDown, Bands: bands, Fibonacci: fib}, 125, 126, ActionDownTrend},
		{"bucket without position", Decision{RSI: 22, Trend: TrendDown, Bands: bands, Fibonacci: fib}, 118, 0, ActionBucket},
		{"bucket needs price under band", Decision{RSI: 22, Trend: TrendDown, Bands: bands, Fibonacci: fib}, 125, 0, ActionGaze},
		{"bucket needs a downtrend", Decision{RSI: 22, Trend: TrendNeutral, Bands: bands, Fibonacci: fib}, 118, 0, ActionGaze},
		{"overbought without position holds", Decision{RSI: 70, Trend: TrendUp, Bands: bands, Fibonacci: fib}, 150, 0, ActionHold},
		{"high rsi defaults to hodl", Decision{RSI: 65, Trend: TrendNeutral, Bands: bands, Fibonacci: fib}, 150, 140, ActionHodl},
		{"high rsi downtrend", Decision{RSI: 65, Trend: TrendDown, Bands: bands, Fibonacci: fib}, 150, 140, ActionDownTrend},
		{"resistance with profit sells", Decision{RSI: 65, Trend: TrendResistance, Bands: bands, Fibonacci: fib}, 180, 150, ActionSell},
		{"resistance thin profit gazes", Decision{RSI: 65, Trend: TrendResistance, Bands: bands, Fibonacci: fib}, 180, 175, ActionGaze},
		{"overbought in profit", Decision{RSI: 85, Trend: TrendOverbought, Bands: bands, Fibonacci: fib}, 150, 140, ActionOverBought},
		{"strong uptrend sells", Decision{RSI: 78, Trend: TrendUp, Bands: BollingerBandsResult{Upper: 160, Lower: 120, PB: 1.3}, Fibonacci: fib}, 150, 140, ActionSell},
		{"strong uptrend moderate rsi gazes", Decision{RSI: 70, Trend: TrendUp, Bands: BollingerBandsResult{Upper: 160, Lower: 120, PB: 1.3}, Fibonacci: fib}, 150, 140, ActionGaze},
		{"neutral rsi holds", Decision{RSI: 50, Trend: TrendNeutral, Bands: bands, Fibonacci: fib}, 150, 140, ActionHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseAction(tt.d, tt.price, tt.entry, th); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// ===== TEST CASES: DECIDE =====

func TestDecide_Deterministic(t *testing.T) {
	prices := wave(100)
	th := DefaultThresholds()
	a := Decide(prices, prices[99], 98, th)
	b := Decide(prices, prices[99], 98, th)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical decisions, got %+v and %+v", a, b)
	}
}

func TestDecide_ShortSeriesHolds(t *testing.T) {
	d := Decide(wave(20), 100, 0, DefaultThresholds())
	if d.Action != ActionHold {
		t.Errorf("Expected HOLD for a short series, got %s", d.Action)
	}
}

func TestDecide_StopLossOnDeepLoss(t *testing.T) {
	prices := wave(100)
	d := Decide(prices, prices[99], prices[99]*1.2, DefaultThresholds())
	if d.Action != ActionStopLoss {
		t.Errorf("Expected STOP_LOSS, got %s", d.Action)
	}
}

// ===== TEST CASES: DIVERGENCE =====

func TestCheckDivergence_Bearish(t *testing.T) {
	prices := []float64{1, 5, 1, 10, 1}
	ind := []float64{0, 50, 0, 30, 0}
	divs := CheckDivergence(prices, ind, 2)
	if len(divs) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divs))
	}
	d := divs[0]
	if d.Type != DivergenceBearish || d.Strength != StrengthStrong || !d.Confirmed {
		t.Errorf("Unexpected divergence %+v", d)
	}
}

func TestCheckDivergence_Bullish(t *testing.T) {
	prices := []float64{10, 5, 10, 2, 10}
	ind := []float64{50, 20, 50, 30, 50}
	divs := CheckDivergence(prices, ind, 40)
	if len(divs) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divs))
	}
	if divs[0].Type != DivergenceBullish || divs[0].Strength != StrengthModerate || !divs[0].Confirmed {
		t.Errorf("Unexpected divergence %+v", divs[0])
	}
}

func TestConfirmDivergence(t *testing.T) {
	prices := []float64{1, 5, 1, 10, 1}
	ind := []float64{0, 50, 0, 30, 0}

	c := ConfirmDivergence(prices, ind, ind, 2)
	if c.Action != ActionSell {
		t.Errorf("Expected SELL confirmation, got %s (%s)", c.Action, c.Reason)
	}

	weak := []float64{0, 5, 0, 4, 0}
	c = ConfirmDivergence(prices, ind, weak, 2)
	if c.Action != ActionHold {
		t.Errorf("Expected HOLD when MACD divergence is unconfirmed, got %s", c.Action)
	}
}
