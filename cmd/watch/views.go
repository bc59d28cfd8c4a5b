package main

import (
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

// listItem implements list.Item for the feed list.
type listItem struct {
	name        string
	description string
}

func (i listItem) Title() string       { return i.name }
func (i listItem) Description() string { return i.description }
func (i listItem) FilterValue() string { return i.name }

var feedDescriptions = map[stream.FeedType]string{
	stream.FeedTypeTrades: "Executed trades (price, side, quantity)",
	stream.FeedTypeQuotes: "Top-of-book quotes (bid, ask, spread)",
}

// NewFeedList creates a new list for feed selection.
func NewFeedList() list.Model {
	feeds := stream.Feeds()
	items := make([]list.Item, 0, len(feeds))

	for _, feed := range feeds {
		items = append(items, listItem{name: string(feed.Type), description: feedDescriptions[feed.Type]})
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(items, delegate, 0, 0)
	l.Title = "Select Feed"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return l
}

// NewInstrumentInput creates a new text input for instrument entry.
func NewInstrumentInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "US88160R1014,US0378331005"
	ti.Focus()
	ti.CharLimit = 400
	ti.Width = 50
	ti.Prompt = "> "

	return ti
}

// ParseInstruments parses comma-separated ISINs into a slice, dropping blanks
// and repeats.
func ParseInstruments(input string) []string {
	parts := strings.Split(input, ",")
	ids := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, p := range parts {
		id := strings.TrimSpace(strings.ToUpper(p))
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids
}

// NewDataTable creates a new table for the latest message per instrument.
func NewDataTable() table.Model {
	columns := []table.Column{
		{Title: "Instrument", Width: 14},
		{Title: "Price/Bid", Width: 16},
		{Title: "Ask", Width: 12},
		{Title: "Qty", Width: 12},
		{Title: "Side/Spread", Width: 12},
		{Title: "Time", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	t.SetStyles(s)

	return t
}

// UpdateTableRows renders the latest message of every instrument.
func UpdateTableRows(t table.Model, latest map[string]stream.Message, prevPrices map[string]decimal.Decimal) table.Model {
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(latest))

	for _, id := range ids {
		rows = append(rows, messageRow(latest[id], prevPrices[id]))
	}

	t.SetRows(rows)

	return t
}

func messageRow(msg stream.Message, prev decimal.Decimal) table.Row {
	at := msg.Timestamp().Format("15:04:05")

	switch m := msg.(type) {
	case stream.Tick:
		return table.Row{m.InstrumentID, FormatPriceWithColor(m.Price, prev), "", formatQuantity(m.Quantity), string(m.Side), at}
	case stream.Quote:
		qty := formatQuantity(m.BidQuantity)
		if ask := formatQuantity(m.AskQuantity); ask != "" {
			qty += "/" + ask
		}

		return table.Row{m.InstrumentID, FormatPriceWithColor(m.BidPrice, prev), m.AskPrice.StringFixed(4), qty, m.Spread().StringFixed(4), at}
	default:
		return table.Row{msg.Instrument(), "", "", "", "", at}
	}
}

// price is the value tracked for the trend indicator.
func price(msg stream.Message) decimal.Decimal {
	switch m := msg.(type) {
	case stream.Tick:
		return m.Price
	case stream.Quote:
		return m.BidPrice
	default:
		return decimal.Zero
	}
}

func formatQuantity(q optional.Option[int64]) string {
	v, err := q.Take()
	if err != nil {
		return ""
	}

	return strconv.FormatInt(v, 10)
}
