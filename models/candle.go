package models

import "time"

// Timeframe names the interval a Candle or MTF zone was computed on.
type Timeframe string

const (
	TimeframeM1   Timeframe = "1m"
	TimeframeM5   Timeframe = "5m"
	TimeframeM15  Timeframe = "15m"
	TimeframeM25  Timeframe = "25m"
	TimeframeM30  Timeframe = "30m"
	TimeframeM60  Timeframe = "60m"
	TimeframeM125 Timeframe = "125m"
	TimeframeDaily Timeframe = "DAILY"
)

// Timeframes is every supported CandleBuilder timeframe, in ascending
// duration order (spec.md §4.4).
var Timeframes = []Timeframe{
	TimeframeM1, TimeframeM5, TimeframeM15, TimeframeM25,
	TimeframeM30, TimeframeM60, TimeframeM125, TimeframeDaily,
}

// Duration returns the wall-clock length of one bar on this timeframe.
// DAILY is treated as a fixed 24h bucket; exchange-session-aware daily
// bucketing is a gateway/MTF-analytics concern, not CandleBuilder's.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeM25:
		return 25 * time.Minute
	case TimeframeM30:
		return 30 * time.Minute
	case TimeframeM60:
		return 60 * time.Minute
	case TimeframeM125:
		return 125 * time.Minute
	case TimeframeDaily:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle is one finalized OHLCV bar for a (symbol, timeframe, open_time)
// key. CandleBuilder finalizes in-progress candles on timeframe boundaries
// and never mutates a finalized one (spec.md §4.4).
type Candle struct {
	Entity

	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe Timeframe `json:"timeframe" db:"timeframe"`
	OpenTime  time.Time `json:"open_time" db:"open_time"`
	CloseTime time.Time `json:"close_time" db:"close_time"`

	Open   Money `json:"open" db:"open"`
	High   Money `json:"high" db:"high"`
	Low    Money `json:"low" db:"low"`
	Close  Money `json:"close" db:"close"`
	Volume int64 `json:"volume" db:"volume"`

	TickCount int  `json:"tick_count" db:"tick_count"`
	Finalized bool `json:"finalized" db:"finalized"`
}

// Key is the natural uniqueness tuple for a candle.
func (c Candle) Key() string {
	return c.Symbol + "|" + string(c.Timeframe) + "|" + c.OpenTime.UTC().Format(time.RFC3339)
}

// ApplyTick folds one trade price/volume into an in-progress candle.
func (c *Candle) ApplyTick(price Money, volume int64) {
	if c.TickCount == 0 {
		c.Open = price
		c.High = price
		c.Low = price
	} else {
		if price.GreaterThan(c.High) {
			c.High = price
		}
		if price.LessThan(c.Low) {
			c.Low = price
		}
	}
	c.Close = price
	c.Volume += volume
	c.TickCount++
}
