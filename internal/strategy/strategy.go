package strategy

// Action is the outcome of one evaluation cycle
type Action string

const (
	ActionHold       Action = "HOLD"
	ActionHodl       Action = "HODL"
	ActionBuy        Action = "BUY"
	ActionSupply     Action = "SUPPLY"
	ActionSell       Action = "SELL"
	ActionStopLoss   Action = "STOP_LOSS"
	ActionDownTrend  Action = "DOWN_TREND"
	ActionGaze       Action = "GAZE"
	ActionOverBought Action = "OVER_BOUGHT"
	ActionBucket     Action = "BUCKET"
)

// Trend is the coarse market classification
type Trend string

const (
	TrendNeutral    Trend = "NEUTRAL"
	TrendSupport    Trend = "SUPPORT"
	TrendResistance Trend = "RESISTANCE"
	TrendUp         Trend = "UPTREND"
	TrendDown       Trend = "DOWNTREND"
	TrendOverbought Trend = "OVERBOUGHT"
	TrendOversold   Trend = "OVERSOLD"
)

// Direction of a moving average
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Thresholds are the per-pair tuning inputs of Decide
type Thresholds struct {
	RSIHigh   float64 `json:"rsiHigh"`
	RSILow    float64 `json:"rsiLow"`
	MaxLoss   float64 `json:"maxLoss"`   // fraction, 0.06 = 6%
	MinProfit float64 `json:"minProfit"` // fraction

	SMAPeriod    int     `json:"smaPeriod"`
	EMAPeriod    int     `json:"emaPeriod"`
	RSIPeriod    int     `json:"rsiPeriod"`
	MACDFast     int     `json:"macdFast"`
	MACDSlow     int     `json:"macdSlow"`
	MACDSignal   int     `json:"macdSignal"`
	BBPeriod     int     `json:"bbPeriod"`
	BBMultiplier float64 `json:"bbMultiplier"`
}

// DefaultThresholds returns the tracker defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIHigh:      60,
		RSILow:       40,
		MaxLoss:      0.06,
		MinProfit:    0.05,
		SMAPeriod:    50,
		EMAPeriod:    20,
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		BBPeriod:     20,
		BBMultiplier: 2,
	}
}

// withDefaults fills unset periods
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.SMAPeriod <= 0 {
		t.SMAPeriod = d.SMAPeriod
	}
	if t.EMAPeriod <= 0 {
		t.EMAPeriod = d.EMAPeriod
	}
	if t.RSIPeriod <= 0 {
		t.RSIPeriod = d.RSIPeriod
	}
	if t.MACDFast <= 0 {
		t.MACDFast = d.MACDFast
	}
	if t.MACDSlow <= 0 {
		t.MACDSlow = d.MACDSlow
	}
	if t.MACDSignal <= 0 {
		t.MACDSignal = d.MACDSignal
	}
	if t.BBPeriod <= 0 {
		t.BBPeriod = d.BBPeriod
	}
	if t.BBMultiplier <= 0 {
		t.BBMultiplier = d.BBMultiplier
	}
	return t
}
