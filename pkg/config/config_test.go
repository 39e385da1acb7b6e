package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
engine:
  symbols:
    - symbol: EURUSD-OTC
      base_price: 1.0850
    - symbol: BTCUSD-OTC
      base_price: 64000
      tick_size: 0.01
`

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, time.Second, c.Engine.TickInterval)
	assert.Equal(t, "log", c.Notifications.Backend)
	assert.Equal(t, 0.85, c.Settlement.DefaultPayoutRate)
	require.Len(t, c.Engine.Symbols, 2)
	assert.Equal(t, 0.00001, c.Engine.Symbols[0].TickSize)
	assert.Equal(t, 0.01, c.Engine.Symbols[1].TickSize)
	assert.Equal(t, 0.0002, c.Engine.Symbols[1].Volatility)
}

func TestParseRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"no symbols": "environment: test\n",
		"duplicate": `
environment: test
engine:
  symbols:
    - {symbol: A, base_price: 1}
    - {symbol: A, base_price: 2}
`,
		"zero base price": `
environment: test
engine:
  symbols:
    - {symbol: A, base_price: 0}
`,
		"kafka backend without kafka": minimalYAML + "backend:\n  type: kafka\n",
		"unknown notifier":            minimalYAML + "notifications:\n  backend: smtp\n",
		"webhook without url":         minimalYAML + "notifications:\n  backend: webhook\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFilterSymbols(t *testing.T) {
	all := []SymbolConfig{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}}
	got := filterSymbols(all, []string{"C", " A", "Z"})
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].Symbol)
	assert.Equal(t, "A", got[1].Symbol)
}
