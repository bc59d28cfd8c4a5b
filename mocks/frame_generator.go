package mocks

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"
)

// FrameGenerator generates realistic inbound feed frames for tests and
// benchmarks.
type FrameGenerator struct {
	rng *rand.Rand
}

// NewFrameGenerator creates a new FrameGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewFrameGenerator(seed int64) *FrameGenerator {
	return &FrameGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how frames are generated.
type GeneratorConfig struct {
	// ISIN is the instrument identifier written into every frame
	ISIN string
	// StartTime is the timestamp of the first frame
	StartTime time.Time
	// Interval is the duration between two frames
	Interval time.Duration
	// Count is the number of frames to generate
	Count int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement (0.01 = 1% per frame)
	Volatility float64
	// Spread is the relative distance between bid and ask (0.001 = 0.1%)
	Spread float64
	// QuantityBase is the average traded or quoted quantity
	QuantityBase int64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		ISIN:         "US88160R1014",
		StartTime:    time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
		Interval:     time.Second,
		Count:        100,
		InitialPrice: 123.4,
		Volatility:   0.002, // 0.2% per frame
		Spread:       0.001,
		QuantityBase: 50,
	}
}

// TradeFrame is the wire shape of a trades feed frame.
type TradeFrame struct {
	ISIN     string  `json:"isin"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Side     string  `json:"side"`
	Date     float64 `json:"date"`
}

// QuoteFrame is the wire shape of a quotes feed frame.
type QuoteFrame struct {
	ISIN     string  `json:"isin"`
	BidPrice float64 `json:"bid_price"`
	AskPrice float64 `json:"ask_price"`
	BidQuan  int64   `json:"bid_quan"`
	AskQuan  int64   `json:"ask_quan"`
	Date     float64 `json:"date"`
}

// Trades generates trade frames following a geometric Brownian motion price path.
func (g *FrameGenerator) Trades(config GeneratorConfig) []TradeFrame {
	frames := make([]TradeFrame, config.Count)
	prices := g.walk(config)

	for i := range frames {
		side := "buy"
		if g.rng.Intn(2) == 1 {
			side = "sell"
		}

		frames[i] = TradeFrame{
			ISIN:     config.ISIN,
			Price:    prices[i],
			Quantity: g.quantity(config),
			Side:     side,
			Date:     epoch(config.StartTime.Add(time.Duration(i) * config.Interval)),
		}
	}

	return frames
}

// Quotes generates quote frames around the same price path as Trades.
func (g *FrameGenerator) Quotes(config GeneratorConfig) []QuoteFrame {
	frames := make([]QuoteFrame, config.Count)
	prices := g.walk(config)

	for i := range frames {
		half := prices[i] * config.Spread / 2

		frames[i] = QuoteFrame{
			ISIN:     config.ISIN,
			BidPrice: roundToDecimals(prices[i]-half, 4),
			AskPrice: roundToDecimals(prices[i]+half, 4),
			BidQuan:  g.quantity(config),
			AskQuan:  g.quantity(config),
			Date:     epoch(config.StartTime.Add(time.Duration(i) * config.Interval)),
		}
	}

	return frames
}

// Encode marshals frames into raw text frames ready to be pushed by a server.
func Encode[T any](frames []T) [][]byte {
	raw := make([][]byte, 0, len(frames))

	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			panic(err)
		}

		raw = append(raw, data)
	}

	return raw
}

// ErrorFrame returns a feed-level error frame.
func ErrorFrame(message string) []byte {
	data, _ := json.Marshal(map[string]any{"error": true, "message": message})

	return data
}

func (g *FrameGenerator) walk(config GeneratorConfig) []float64 {
	prices := make([]float64, config.Count)
	current := config.InitialPrice

	for i := range prices {
		// Using Box-Muller transform for normal distribution
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		next := current * (1 + config.Volatility*z)
		if next <= 0 {
			next = current * 0.99 // Prevent negative prices
		}

		prices[i] = roundToDecimals(current, 4)
		current = next
	}

	return prices
}

func (g *FrameGenerator) quantity(config GeneratorConfig) int64 {
	if config.QuantityBase <= 0 {
		return 1
	}

	return 1 + g.rng.Int63n(2*config.QuantityBase)
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(val*pow) / pow
}
