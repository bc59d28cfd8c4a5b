package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// unknownFeedError is the message used when a frame carries no usable content.
const unknownFeedError = "unknown error"

// SpecifierLookup returns the specifier currently registered for an instrument.
type SpecifierLookup func(instrumentID string) (Specifier, bool)

type frameDecoder func(frame []byte, lookup SpecifierLookup) (Message, error)

type subscribeCommand struct {
	Action    string    `json:"action"`
	Type      FeedType  `json:"type"`
	Value     string    `json:"value"`
	Specifier Specifier `json:"specifier"`
}

type unsubscribeCommand struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

// tradeFrame and quoteFrame mirror the inbound wire schema.
type tradeFrame struct {
	ISIN     string              `json:"isin"`
	Price    decimal.NullDecimal `json:"price"`
	Quantity *json.Number        `json:"quantity"`
	Side     Side                `json:"side"`
	Date     *epochSeconds       `json:"date"`
}

type quoteFrame struct {
	ISIN        string              `json:"isin"`
	BidPrice    decimal.NullDecimal `json:"bid_price"`
	AskPrice    decimal.NullDecimal `json:"ask_price"`
	BidQuantity *json.Number        `json:"bid_quan"`
	AskQuantity *json.Number        `json:"ask_quan"`
	Date        *epochSeconds       `json:"date"`
}

// Timestamps must fall within years 1 to 9999.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// epochSeconds accepts a numeric or numeric-string epoch timestamp in seconds.
type epochSeconds float64

func (e *epochSeconds) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}

	if math.IsNaN(v) || v < minEpochSeconds || v > maxEpochSeconds {
		return fmt.Errorf("timestamp %s out of range", data)
	}

	*e = epochSeconds(v)

	return nil
}

func (e epochSeconds) Time() time.Time {
	whole, frac := math.Modf(float64(e))

	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// Decode turns one raw frame into a typed message for the given feed.
//
// It fails with ErrCodeMalformedFrame when the frame is not a JSON object of the
// expected shape, and with ErrCodeFeedError when the server reported an error or
// the frame lacks the fields every message needs. The specifier of the returned
// message comes from lookup, not from the frame.
func Decode(feed Feed, frame []byte, lookup SpecifierLookup) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to parse frame", err)
	}

	if fields == nil {
		return nil, errors.New(errors.ErrCodeMalformedFrame, "frame is not an object")
	}

	if truthy(fields["error"]) {
		return nil, errors.New(errors.ErrCodeFeedError, feedErrorMessage(fields["message"]))
	}

	if len(fields) == 0 {
		return nil, errors.New(errors.ErrCodeFeedError, unknownFeedError)
	}

	if feed.decode == nil {
		return nil, errors.Newf(errors.ErrCodeInvalidFeed, "feed %q has no decoder", feed.Type)
	}

	return feed.decode(frame, lookup)
}

func decodeTick(frame []byte, lookup SpecifierLookup) (Message, error) {
	var f tradeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to parse trade frame", err)
	}

	if f.ISIN == "" || f.Date == nil || !f.Price.Valid {
		return nil, errors.New(errors.ErrCodeFeedError, unknownFeedError)
	}

	quantity, err := parseQuantity(f.Quantity)
	if err != nil {
		return nil, err
	}

	specifier, _ := lookup(f.ISIN)

	return Tick{
		InstrumentID: f.ISIN,
		Price:        f.Price.Decimal,
		Quantity:     quantity,
		Side:         f.Side,
		Time:         f.Date.Time(),
		Specifier:    specifier,
	}, nil
}

func decodeQuote(frame []byte, lookup SpecifierLookup) (Message, error) {
	var f quoteFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedFrame, "failed to parse quote frame", err)
	}

	if f.ISIN == "" || f.Date == nil || !f.BidPrice.Valid || !f.AskPrice.Valid {
		return nil, errors.New(errors.ErrCodeFeedError, unknownFeedError)
	}

	bidQuantity, err := parseQuantity(f.BidQuantity)
	if err != nil {
		return nil, err
	}

	askQuantity, err := parseQuantity(f.AskQuantity)
	if err != nil {
		return nil, err
	}

	specifier, _ := lookup(f.ISIN)

	return Quote{
		InstrumentID: f.ISIN,
		BidPrice:     f.BidPrice.Decimal,
		AskPrice:     f.AskPrice.Decimal,
		BidQuantity:  bidQuantity,
		AskQuantity:  askQuantity,
		Time:         f.Date.Time(),
		Specifier:    specifier,
	}, nil
}

// EncodeSubscribe builds the subscribe command for one instrument.
func EncodeSubscribe(feed Feed, instrumentID string, specifier Specifier) ([]byte, error) {
	return json.Marshal(subscribeCommand{
		Action:    "subscribe",
		Type:      feed.Type,
		Value:     instrumentID,
		Specifier: specifier,
	})
}

// EncodeUnsubscribe builds the unsubscribe command for one instrument.
func EncodeUnsubscribe(instrumentID string) ([]byte, error) {
	return json.Marshal(unsubscribeCommand{
		Action: "unsubscribe",
		Value:  instrumentID,
	})
}

func parseQuantity(n *json.Number) (optional.Option[int64], error) {
	if n == nil {
		return optional.None[int64](), nil
	}

	if v, err := n.Int64(); err == nil {
		return optional.Some(v), nil
	}

	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return optional.None[int64](), errors.Newf(errors.ErrCodeMalformedFrame, "quantity %q is not an integer", n.String())
	}

	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return optional.None[int64](), errors.Newf(errors.ErrCodeMalformedFrame, "quantity %q is out of range", n.String())
	}

	return optional.Some(int64(f)), nil
}

// truthy reports whether a raw JSON value would count as set: true, a non-empty
// string, a non-zero number or a non-empty array or object.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}

	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func feedErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return unknownFeedError
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		if message == "" {
			return unknownFeedError
		}

		return message
	}

	return string(raw)
}
