package usecase

import (
	"math"
	"testing"

	"OTCDesk/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func natural(prev, step float64) models.NaturalTick {
	return models.NaturalTick{
		Symbol:   eurusd,
		Prev:     prev,
		Step:     step,
		Price:    applyStep(prev, step, 0.00001),
		TickSize: 0.00001,
		Time:     t0,
	}
}

func TestPerturbNeutralLeavesWalkAlone(t *testing.T) {
	for _, step := range []float64{-0.0004, 0, 0.00025} {
		nt := natural(1.085, step)
		got := Perturb(nt, models.NeutralState())
		assert.Equal(t, nt.Price, got.Price)
		assert.Equal(t, nt.Price, got.Natural)
	}

	// a bias with zero strength is still neutral
	got := Perturb(natural(1.085, 0.0003), models.ControlState{Bias: 1, Multiplier: 1})
	assert.Equal(t, natural(1.085, 0.0003).Price, got.Price)
}

func TestPerturbOverrideIsExact(t *testing.T) {
	p := 1.23456789
	got := Perturb(natural(1.085, 0.0003), models.ControlState{Override: &p, Bias: -1, Strength: 1, Multiplier: 5})
	assert.Equal(t, p, got.Price)
}

func TestPerturbFullBiasFollowsSign(t *testing.T) {
	up := models.ControlState{Bias: 1, Strength: 1, Multiplier: 1}
	down := models.ControlState{Bias: -1, Strength: 1, Multiplier: 1}

	for _, step := range []float64{-0.0004, -0.0001, 0.0001, 0.0004} {
		nt := natural(1.085, step)
		assert.Greater(t, Perturb(nt, up).Price, nt.Prev, "step %v", step)
		assert.Less(t, Perturb(nt, down).Price, nt.Prev, "step %v", step)

		// magnitude is kept
		assert.InDelta(t, math.Abs(step), math.Abs(shapeStep(step, up)), 1e-15)
	}
}

func TestPerturbVolatilityScalesStep(t *testing.T) {
	s := models.ControlState{Multiplier: 3}
	assert.InDelta(t, 0.0006, shapeStep(0.0002, s), 1e-15)

	nt := natural(1.085, 0.0002)
	calm := Perturb(nt, models.NeutralState()).Price - nt.Prev
	wild := Perturb(nt, s).Price - nt.Prev
	assert.Greater(t, wild, calm)
}

func TestPerturbIsDeterministicAndOnGrid(t *testing.T) {
	s := models.ControlState{Bias: 0.4, Strength: 0.5, Multiplier: 2}
	nt := natural(1.085, -0.00031)
	a, b := Perturb(nt, s), Perturb(nt, s)
	assert.Equal(t, a, b)

	ticks := a.Price / 0.00001
	assert.InDelta(t, math.Round(ticks), ticks, 1e-6)
}

func TestApplyStepFloorsAtOneTick(t *testing.T) {
	assert.Equal(t, 0.01, applyStep(0.02, -50, 0.01))
	assert.Equal(t, 0.00001, applyStep(0.00002, -50, 0))
}

func TestReportedExit(t *testing.T) {
	const tick = 0.00001
	cases := []struct {
		name    string
		dir     models.Direction
		market  float64
		outcome models.Outcome
		want    float64
	}{
		{"agrees with market", models.DirectionUp, 1.08510, models.OutcomeWin, 1.08510},
		{"push stays", models.DirectionUp, 1.08500, models.OutcomePush, 1.08500},
		{"forced win mirrors down move", models.DirectionUp, 1.08480, models.OutcomeWin, 1.08520},
		{"forced lose mirrors up move", models.DirectionUp, 1.08530, models.OutcomeLose, 1.08470},
		{"forced win on down trade", models.DirectionDown, 1.08530, models.OutcomeWin, 1.08470},
		{"flat market forced win moves one tick", models.DirectionUp, 1.08500, models.OutcomeWin, 1.08501},
		{"flat market forced lose moves one tick", models.DirectionDown, 1.08500, models.OutcomeLose, 1.08501},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReportedExit(tc.dir, 1.08500, tc.market, tc.outcome, tick)
			assert.InDelta(t, tc.want, got, 1e-12)
			if tc.outcome != models.OutcomePush {
				assert.Equal(t, tc.outcome, models.MarketOutcome(tc.dir, 1.08500, got))
			}
		})
	}
}

func TestReportedExitStaysPositive(t *testing.T) {
	got := ReportedExit(models.DirectionUp, 0.5, 1.2, models.OutcomeLose, 0.01)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 0.5)
}

func TestPerturbBoundsOversizedControls(t *testing.T) {
	strong := models.ControlState{Bias: 1, Strength: 1e6, Multiplier: 1}
	assert.InDelta(t, 4*0.0002, shapeStep(0.0002, strong), 1e-15)
	assert.InDelta(t, 4*0.0002, shapeStep(-0.0002, strong), 1e-15)

	wild := models.ControlState{Multiplier: 1e300}
	assert.Equal(t, 0.5, shapeStep(0.0002, wild))
	assert.Equal(t, -0.5, shapeStep(-0.0002, wild))

	p := Perturb(natural(1.085, 0.0002), models.ControlState{Bias: 1, Strength: 1e300, Multiplier: 1e300})
	assert.False(t, math.IsInf(p.Price, 0) || math.IsNaN(p.Price))
	assert.LessOrEqual(t, p.Price, 1.085*math.Exp(0.5)+0.00001)
}
