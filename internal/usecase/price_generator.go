package usecase

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"OTCDesk/internal/domain/models"
)

// SymbolParams shapes the natural walk of one symbol.
type SymbolParams struct {
	Symbol        string
	BasePrice     float64
	Volatility    float64 // per-tick σ of the log return
	TickSize      float64
	Drift         float64
	MeanReversion float64
}

// PriceGenerator is a seeded geometric random walk pulled back toward the
// base price. One instance per symbol; not safe for concurrent use.
type PriceGenerator struct {
	p   SymbolParams
	rnd *rand.Rand
	ln0 float64
}

// NewPriceGenerator seeds the walk from seed and the symbol name, so every
// symbol has its own reproducible sequence.
func NewPriceGenerator(p SymbolParams, seed int64) *PriceGenerator {
	if p.TickSize <= 0 {
		p.TickSize = defaultTickSize
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.Symbol))
	return &PriceGenerator{
		p:   p,
		rnd: rand.New(rand.NewSource(seed + int64(h.Sum64()))),
		ln0: math.Log(p.BasePrice),
	}
}

func (g *PriceGenerator) Params() SymbolParams { return g.p }

// Next draws one step from prev.
func (g *PriceGenerator) Next(prev float64, at time.Time) models.NaturalTick {
	if prev <= 0 || math.IsNaN(prev) || math.IsInf(prev, 0) {
		prev = g.p.BasePrice
	}
	z := g.rnd.NormFloat64()
	step := g.p.Drift + g.p.Volatility*z + g.p.MeanReversion*(g.ln0-math.Log(prev))
	return models.NaturalTick{
		Symbol:   g.p.Symbol,
		Prev:     prev,
		Step:     step,
		Price:    applyStep(prev, step, g.p.TickSize),
		TickSize: g.p.TickSize,
		Time:     at,
	}
}
