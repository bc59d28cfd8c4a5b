package stream

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Message is a decoded feed frame: either a Tick or a Quote.
type Message interface {
	// Instrument returns the instrument identifier (ISIN).
	Instrument() string
	// Timestamp returns the exchange time of the event in UTC.
	Timestamp() time.Time
	// Spec returns the specifier the instrument was subscribed with.
	Spec() Specifier

	isMessage()
}

// Tick is a single executed trade. Quantity is only sent for
// quantity-enabled specifiers.
type Tick struct {
	InstrumentID string
	Price        decimal.Decimal
	Quantity     optional.Option[int64]
	Side         Side
	Time         time.Time
	Specifier    Specifier
}

// Quote is a top-of-book update. BidQuantity and AskQuantity are only sent
// for quantity-enabled specifiers.
type Quote struct {
	InstrumentID string
	BidPrice     decimal.Decimal
	AskPrice     decimal.Decimal
	BidQuantity  optional.Option[int64]
	AskQuantity  optional.Option[int64]
	Time         time.Time
	Specifier    Specifier
}

func (t Tick) Instrument() string   { return t.InstrumentID }
func (t Tick) Timestamp() time.Time { return t.Time }
func (t Tick) Spec() Specifier      { return t.Specifier }
func (Tick) isMessage()             {}

func (q Quote) Instrument() string   { return q.InstrumentID }
func (q Quote) Timestamp() time.Time { return q.Time }
func (q Quote) Spec() Specifier      { return q.Specifier }
func (Quote) isMessage()             {}

// Spread returns ask minus bid.
func (q Quote) Spread() decimal.Decimal {
	return q.AskPrice.Sub(q.BidPrice)
}
