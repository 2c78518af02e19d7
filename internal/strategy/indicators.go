package strategy

import "math"

// sma returns the simple moving average series of values over period. Entries
// before the first full window are NaN.
func sma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i+1 < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// rollingStd returns the sample standard deviation series over period.
func rollingStd(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i+1 < period || period < 2 {
			out[i] = math.NaN()
			continue
		}
		window := values[i+1-period : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// rsi computes the relative strength index using simple rolling means of
// gains and losses. The first period entries are NaN. A window with no losses
// yields 100; a flat window yields NaN.
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) <= period {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	for i := period; i < len(closes); i++ {
		var g, l float64
		for j := i + 1 - period; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		g /= float64(period)
		l /= float64(period)
		switch {
		case l == 0 && g == 0:
			out[i] = math.NaN()
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// crossedAbove reports a move from below (or at) to strictly above between
// the previous and current samples.
func crossedAbove(prevA, prevB, currA, currB float64) bool {
	return prevA < prevB && currA > currB
}

func crossedBelow(prevA, prevB, currA, currB float64) bool {
	return prevA > prevB && currA < currB
}

func last2(s []float64) (prev, curr float64) {
	return s[len(s)-2], s[len(s)-1]
}
