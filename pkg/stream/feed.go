// Package stream implements a subscription-driven market data streaming client.
//
// A Stream owns one background worker that keeps a transport connection to a
// push feed alive. Subscribe and Unsubscribe mutate a registry and ask the worker
// to rebuild its connection; the worker replays every registered instrument on
// the new connection, decodes inbound frames into Tick or Quote values and hands
// them to the consumer callback, at most once per configured frequency limit.
//
//	s, err := stream.Start(ctx, stream.TradesFeed, onTick, stream.DefaultConfig())
//	if err != nil { ... }
//	defer s.Stop()
//
//	_ = s.Subscribe("US88160R1014", "")
package stream

import (
	"net/url"
	"slices"
	"strings"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// Specifier selects which optional fields a subscription receives.
type Specifier string

// FeedType is the value of the "type" field of a subscribe command.
type FeedType string

const (
	FeedTypeTrades FeedType = "trades"
	FeedTypeQuotes FeedType = "quotes"
)

const (
	SpecifierWithQuantity              Specifier = "with-quantity"
	SpecifierWithUncovered             Specifier = "with-uncovered"
	SpecifierWithQuantityWithUncovered Specifier = "with-quantity-with-uncovered"
	SpecifierWithPrice                 Specifier = "with-price"
	SpecifierWithQuantityWithPrice     Specifier = "with-quantity-with-price"
)

// Feed describes one push endpoint: where it lives, what it accepts and how its
// frames decode.
type Feed struct {
	Type             FeedType
	Path             string
	Specifiers       []Specifier
	DefaultSpecifier Specifier

	decode frameDecoder
}

// TradesFeed streams executed trades as Tick messages.
var TradesFeed = Feed{
	Type: FeedTypeTrades,
	Path: "marketdata/",
	Specifiers: []Specifier{
		SpecifierWithQuantity,
		SpecifierWithUncovered,
		SpecifierWithQuantityWithUncovered,
	},
	DefaultSpecifier: SpecifierWithUncovered,
	decode:           decodeTick,
}

// QuotesFeed streams top-of-book updates as Quote messages.
var QuotesFeed = Feed{
	Type: FeedTypeQuotes,
	Path: "quotes/",
	Specifiers: []Specifier{
		SpecifierWithQuantity,
		SpecifierWithPrice,
		SpecifierWithQuantityWithPrice,
	},
	DefaultSpecifier: SpecifierWithPrice,
	decode:           decodeQuote,
}

// Feeds lists every supported feed.
func Feeds() []Feed {
	return []Feed{TradesFeed, QuotesFeed}
}

// FeedByType returns the feed registered under the given type name.
func FeedByType(name string) (Feed, error) {
	for _, feed := range Feeds() {
		if string(feed.Type) == strings.ToLower(strings.TrimSpace(name)) {
			return feed, nil
		}
	}

	return Feed{}, errors.Newf(errors.ErrCodeInvalidFeed, "unsupported feed: %s", name) //nolint:exhaustruct // zero value for error response
}

// Allows reports whether s belongs to the feed's allowed set.
func (f Feed) Allows(s Specifier) bool {
	return slices.Contains(f.Specifiers, s)
}

// Resolve maps an empty specifier to the feed default and rejects specifiers
// outside the allowed set.
func (f Feed) Resolve(s Specifier) (Specifier, error) {
	if s == "" {
		return f.DefaultSpecifier, nil
	}

	if !f.Allows(s) {
		return "", errors.Newf(errors.ErrCodeInvalidSpecifier,
			"specifier %q is not allowed for %s feed (allowed: %s)", s, f.Type, f.specifierList())
	}

	return s, nil
}

// URL joins the feed path onto the streaming base URL.
func (f Feed) URL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid base url %q", base)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", errors.Newf(errors.ErrCodeInvalidConfiguration, "base url %q must be absolute", base)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return u.JoinPath(f.Path).String(), nil
}

func (f Feed) specifierList() string {
	names := make([]string, len(f.Specifiers))
	for i, s := range f.Specifiers {
		names[i] = string(s)
	}

	return strings.Join(names, ", ")
}
