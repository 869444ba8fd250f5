package market

import (
	"math"

	"momentum-trading-bot/internal/exchange"
)

// CalculateSMA calculates the simple moving average of closes.
func CalculateSMA(candles []exchange.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	sum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Close
	}

	return sum / float64(period)
}

// CalculateRSI calculates the Relative Strength Index from simple mean
// gain and loss over the last period bars. Returns the neutral 50 when
// there is not enough history.
func CalculateRSI(candles []exchange.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0

	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		avgLoss = 1e-10
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateATR calculates the Average True Range over the last period
// bars. TR is max(high-low, |high-prevClose|, |low-prevClose|).
func CalculateATR(candles []exchange.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)

		trSum += tr
	}

	return trSum / float64(period)
}

// CalculateMaxDrawdown returns the largest peak-to-close decline in
// percent across the series.
func CalculateMaxDrawdown(candles []exchange.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}

	maxDD := 0.0
	peak := candles[0].Close

	for _, c := range candles {
		if c.Close > peak {
			peak = c.Close
		}
		if peak > 0 {
			dd := (peak - c.Close) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// CalculateVolumeRatio compares the last bar's volume against the mean
// of all preceding bars. The second return is false when there is not
// enough history or the mean is zero.
func CalculateVolumeRatio(candles []exchange.Candle) (float64, bool) {
	if len(candles) < 2 {
		return 0, false
	}

	sum := 0.0
	for _, c := range candles[:len(candles)-1] {
		sum += c.Volume
	}
	mean := sum / float64(len(candles)-1)
	if mean == 0 {
		return 0, false
	}

	return candles[len(candles)-1].Volume / mean, true
}

// CalculateDollarVolume sums close*volume across the series.
func CalculateDollarVolume(candles []exchange.Candle) float64 {
	total := 0.0
	for _, c := range candles {
		total += c.Close * c.Volume
	}
	return total
}

// HighestHigh returns the maximum high across the series.
func HighestHigh(candles []exchange.Candle) float64 {
	high := 0.0
	for _, c := range candles {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

// PercentChange returns the change from the bar histIdx positions before
// the last bar to the last bar, in percent.
func PercentChange(candles []exchange.Candle, histIdx int) float64 {
	if len(candles) == 0 || histIdx < 1 || histIdx >= len(candles) {
		return 0
	}

	current := candles[len(candles)-1].Close
	historical := candles[len(candles)-1-histIdx].Close
	if historical == 0 {
		return 0
	}

	return (current/historical - 1) * 100
}

// DetectCrossover reports a golden or death cross between a short and a
// long SMA across the last two bars: +1 when the short average crosses
// above the long one, -1 when it crosses below, 0 otherwise.
func DetectCrossover(candles []exchange.Candle, shortPeriod, longPeriod int) int {
	if len(candles) < longPeriod+1 {
		return 0
	}

	prev := candles[:len(candles)-1]
	shortPrev := CalculateSMA(prev, shortPeriod)
	longPrev := CalculateSMA(prev, longPeriod)
	shortNow := CalculateSMA(candles, shortPeriod)
	longNow := CalculateSMA(candles, longPeriod)

	if shortPrev <= longPrev && shortNow > longNow {
		return 1
	}
	if shortPrev >= longPrev && shortNow < longNow {
		return -1
	}
	return 0
}
