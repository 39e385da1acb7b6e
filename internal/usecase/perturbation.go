package usecase

import (
	"math"
	"strconv"
	"strings"

	"OTCDesk/internal/domain/models"
)

const (
	defaultTickSize = 0.00001

	// maxBiasGain bounds how far a strength above 1 can stretch a step,
	// as a multiple of the volatility-scaled step.
	maxBiasGain = 4.0
	// maxLogStep bounds one published move to a factor of e^0.5 either way.
	maxLogStep = 0.5
)

// Perturb applies control state s to one natural step. It is pure: the same
// inputs always give the same tick.
func Perturb(nt models.NaturalTick, s models.ControlState) models.Tick {
	t := models.Tick{Symbol: nt.Symbol, Time: nt.Time, Natural: nt.Price}
	switch {
	case s.Override != nil:
		t.Price = *s.Override
	case s.Neutral():
		t.Price = nt.Price
	default:
		t.Price = applyStep(nt.Prev, shapeStep(nt.Step, s), nt.TickSize)
	}
	return t
}

// shapeStep scales the log return r by the volatility multiplier, then pulls
// its sign toward the bias. With strength 1 and |bias| 1 the sign follows the
// bias entirely while the magnitude is kept.
func shapeStep(r float64, s models.ControlState) float64 {
	m := s.Multiplier
	if m <= 0 {
		m = 1
	}
	rm := r * m
	k := math.Min(1, s.Strength*math.Abs(s.Bias))
	out := (1-k)*rm + s.Strength*s.Bias*math.Abs(rm)
	out = clamp(out, maxBiasGain*math.Abs(rm))
	return clamp(out, maxLogStep)
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// applyStep moves prev by the log return r on the tick grid, never below one tick.
func applyStep(prev, r, tick float64) float64 {
	if tick <= 0 {
		tick = defaultTickSize
	}
	p := snapToTick(prev*math.Exp(r), tick)
	if p < tick {
		p = roundToTick(tick, tick)
	}
	return p
}

func snapToTick(p, tick float64) float64 {
	return roundToTick(math.Round(p/tick)*tick, tick)
}

// roundToTick trims float noise to the decimals of tick.
func roundToTick(p, tick float64) float64 {
	pow := math.Pow(10, float64(tickDecimals(tick)))
	return math.Round(p*pow) / pow
}

func tickDecimals(tick float64) int {
	s := strconv.FormatFloat(tick, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
