package models

import "time"

// Tick is one published price of a symbol.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	// Natural is the unperturbed price; internal consumers only.
	Natural float64 `json:"-"`
}

// NaturalTick is one step of the unperturbed random walk.
type NaturalTick struct {
	Symbol   string
	Prev     float64
	Step     float64 // log return
	Price    float64
	TickSize float64
	Time     time.Time
}

// Candle represents an OHLC bucket built from archived ticks.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Ticks  uint64    `json:"ticks"`
}
