package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

// Application states.
const (
	StateFeedSelect = iota
	StateInstrumentInput
	StateDataDisplay
)

// eventBuffer bounds how many stream events wait for the UI. Messages beyond
// it are dropped; the table only shows the latest value anyway.
const eventBuffer = 256

// Model is the main Bubble Tea model for the live feed viewer.
type Model struct {
	state           int
	feedList        list.Model
	instrumentInput textinput.Model
	dataTable       table.Model
	latest          map[string]stream.Message
	prevPrices      map[string]decimal.Decimal
	feed            stream.Feed
	instruments     []string
	cfg             stream.Config
	log             *logger.Logger
	err             error
	width           int
	height          int

	// Streaming control
	session int
	stream  *stream.Stream
	events  <-chan tea.Msg
}

// NewModel creates a new Model that streams with cfg.
func NewModel(cfg stream.Config, log *logger.Logger) Model {
	return Model{
		state:           StateFeedSelect,
		feedList:        NewFeedList(),
		instrumentInput: NewInstrumentInput(),
		dataTable:       NewDataTable(),
		latest:          make(map[string]stream.Message),
		prevPrices:      make(map[string]decimal.Decimal),
		feed:            stream.TradesFeed,
		instruments:     nil,
		cfg:             cfg,
		log:             log,
		err:             nil,
		width:           0,
		height:          0,
		session:         0,
		stream:          nil,
		events:          nil,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.stopStream()

			return m, tea.Quit
		case "q":
			// Only quit on 'q' if not in text input mode
			if m.state != StateInstrumentInput {
				m.stopStream()

				return m, tea.Quit
			}
		case "esc":
			return m.handleEsc()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.feedList.SetSize(msg.Width, msg.Height-4)
		m.dataTable.SetWidth(msg.Width)
		m.dataTable.SetHeight(msg.Height - 7)

		return m, nil

	case StreamStartedMsg:
		if msg.Session != m.session {
			_ = msg.Stream.Stop()

			return m, nil
		}

		m.stream = msg.Stream
		m.events = msg.Events

		return m, waitForEvent(msg.Session, m.stream, m.events)

	case StreamMsg:
		if msg.Session != m.session || m.stream == nil {
			return m, nil
		}

		id := msg.Message.Instrument()
		if existing, ok := m.latest[id]; ok {
			m.prevPrices[id] = price(existing)
		}

		m.latest[id] = msg.Message
		m.dataTable = UpdateTableRows(m.dataTable, m.latest, m.prevPrices)

		return m, waitForEvent(m.session, m.stream, m.events)

	case StreamErrorMsg:
		if msg.Session != m.session {
			return m, nil
		}

		m.err = msg.Err
		if m.stream == nil {
			return m, nil
		}

		return m, waitForEvent(m.session, m.stream, m.events)

	case StreamStoppedMsg:
		if msg.Session != m.session {
			return m, nil
		}

		m.stream = nil
		m.events = nil
		if msg.Err != nil {
			m.err = msg.Err
		}

		return m, nil
	}

	// Delegate to state-specific update
	switch m.state {
	case StateFeedSelect:
		return m.updateFeedSelect(msg)
	case StateInstrumentInput:
		return m.updateInstrumentInput(msg)
	case StateDataDisplay:
		return m.updateDataDisplay(msg)
	}

	return m, nil
}

func (m Model) handleEsc() (tea.Model, tea.Cmd) {
	switch m.state {
	case StateInstrumentInput:
		m.instrumentInput.Reset()

		if m.stream != nil {
			// back to the running stream without adding anything
			m.instrumentInput.Blur()
			m.state = StateDataDisplay

			return m, nil
		}

		m.state = StateFeedSelect
	case StateDataDisplay:
		// Stop streaming and clear watched instruments
		m.stopStream()
		m.session++
		m.latest = make(map[string]stream.Message)
		m.prevPrices = make(map[string]decimal.Decimal)
		m.dataTable = UpdateTableRows(m.dataTable, m.latest, m.prevPrices)
		m.instruments = nil
		m.err = nil
		m.instrumentInput.Reset()
		m.instrumentInput.Focus()
		m.state = StateInstrumentInput

		return m, textinput.Blink
	}

	return m, nil
}

func (m Model) updateFeedSelect(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		if item, ok := m.feedList.SelectedItem().(listItem); ok {
			feed, err := stream.FeedByType(item.name)
			if err != nil {
				m.err = err

				return m, nil
			}

			m.feed = feed
			m.state = StateInstrumentInput
			m.instrumentInput.Focus()

			return m, textinput.Blink
		}
	}

	var cmd tea.Cmd
	m.feedList, cmd = m.feedList.Update(msg)

	return m, cmd
}

func (m Model) updateInstrumentInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		ids := ParseInstruments(m.instrumentInput.Value())
		if len(ids) == 0 {
			return m, nil
		}

		m.instrumentInput.Blur()
		m.instrumentInput.Reset()
		m.state = StateDataDisplay

		if m.stream != nil {
			m.err = m.subscribe(m.stream, ids)

			return m, nil
		}

		m.instruments = ids
		m.err = nil
		m.session++

		return m, m.startStreaming()
	}

	var cmd tea.Cmd
	m.instrumentInput, cmd = m.instrumentInput.Update(msg)

	return m, cmd
}

func (m Model) updateDataDisplay(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "a":
			if m.stream != nil {
				m.state = StateInstrumentInput
				m.instrumentInput.Focus()

				return m, textinput.Blink
			}
		case "d":
			return m.unsubscribeSelected(), nil
		}
	}

	var cmd tea.Cmd
	m.dataTable, cmd = m.dataTable.Update(msg)

	return m, cmd
}

// subscribe adds ids to a running stream and to the watched list.
func (m *Model) subscribe(s *stream.Stream, ids []string) error {
	for _, id := range ids {
		if err := s.Subscribe(id, ""); err != nil {
			return err
		}

		if !slices.Contains(m.instruments, id) {
			m.instruments = append(m.instruments, id)
		}
	}

	return nil
}

// unsubscribeSelected drops the instrument on the selected table row.
func (m Model) unsubscribeSelected() Model {
	row := m.dataTable.SelectedRow()
	if m.stream == nil || len(row) == 0 {
		return m
	}

	id := row[0]
	if err := m.stream.Unsubscribe(id); err != nil {
		m.err = err

		return m
	}

	delete(m.latest, id)
	delete(m.prevPrices, id)

	kept := make([]string, 0, len(m.instruments))
	for _, existing := range m.instruments {
		if existing != id {
			kept = append(kept, existing)
		}
	}

	m.instruments = kept
	m.dataTable = UpdateTableRows(m.dataTable, m.latest, m.prevPrices)

	return m
}

func (m *Model) stopStream() {
	if m.stream == nil {
		return
	}

	if err := m.stream.Stop(); err != nil {
		m.err = err
	}

	m.stream = nil
	m.events = nil
}

// startStreaming returns a command that starts the stream and subscribes the
// entered instruments. Stream events are forwarded through a buffered channel
// that waitForEvent drains one message at a time.
func (m Model) startStreaming() tea.Cmd {
	session := m.session
	feed := m.feed
	cfg := m.cfg
	log := m.log
	ids := append([]string(nil), m.instruments...)

	return func() tea.Msg {
		events := make(chan tea.Msg, eventBuffer)
		forward := func(msg tea.Msg) {
			select {
			case events <- msg:
			default:
			}
		}

		s, err := stream.Start(context.Background(), feed, func(msg stream.Message) error {
			forward(StreamMsg{Session: session, Message: msg})

			return nil
		}, cfg,
			stream.WithLogger(log),
			stream.WithErrorHandler(func(err error) {
				forward(StreamErrorMsg{Session: session, Err: err})
			}),
		)
		if err != nil {
			return StreamErrorMsg{Session: session, Err: err}
		}

		for _, id := range ids {
			if err := s.Subscribe(id, ""); err != nil {
				_ = s.Stop()

				return StreamErrorMsg{Session: session, Err: err}
			}
		}

		return StreamStartedMsg{Session: session, Stream: s, Events: events}
	}
}

// waitForEvent blocks until the stream produces an event or exits.
func waitForEvent(session int, s *stream.Stream, events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-events:
			return msg
		case <-s.Done():
			return StreamStoppedMsg{Session: session, Err: s.Err()}
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var s strings.Builder

	switch m.state {
	case StateFeedSelect:
		s.WriteString(TitleStyle.Render("Argo Stream - Live Feed"))
		s.WriteString("\n\n")
		s.WriteString(m.feedList.View())
		s.WriteString("\n")

		if m.err != nil {
			s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			s.WriteString("\n")
		}

		s.WriteString(HelpStyle.Render("Press Enter to select, q to quit"))

	case StateInstrumentInput:
		s.WriteString(TitleStyle.Render(fmt.Sprintf("Enter Instruments (%s)", m.feed.Type)))
		s.WriteString("\n\n")
		s.WriteString("Enter comma-separated ISINs (e.g., US88160R1014,US0378331005):\n\n")
		s.WriteString(m.instrumentInput.View())
		s.WriteString("\n\n")
		s.WriteString(HelpStyle.Render("Press Enter to confirm, Esc to go back"))

	case StateDataDisplay:
		s.WriteString(TitleStyle.Render(fmt.Sprintf("Live %s - %s", m.feed.Type, m.cfg.BaseURL)))
		s.WriteString("\n\n")

		if m.err != nil {
			s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			s.WriteString("\n\n")
		}

		if len(m.latest) == 0 {
			s.WriteString("Waiting for data...\n")
		} else {
			s.WriteString(m.dataTable.View())
		}

		s.WriteString("\n")
		s.WriteString(StatusStyle.Render(m.status()))
		s.WriteString("\n")
		s.WriteString(HelpStyle.Render(fmt.Sprintf("q: quit | Esc: back | a: add | d: drop | Streaming: %s",
			strings.Join(m.instruments, ", "))))
	}

	return s.String()
}

func (m Model) status() string {
	if m.stream == nil {
		return "stopped"
	}

	stats := m.stream.Stats()

	return fmt.Sprintf("%s | delivered %d | dropped %d | reconnects %d",
		m.stream.State(), stats.Delivered, stats.Dropped, stats.Reconnects)
}
