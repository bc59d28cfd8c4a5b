package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"

	"github.com/rxtech-lab/argo-stream/pkg/stream"
)

// printer is the stream handler used by the feed commands. It either writes one
// line per message or, with progress enabled, only advances a spinner.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	count int64
	limit int64
	done  func()
}

func newPrinter(out io.Writer, progress bool, limit int64, done func()) *printer {
	p := &printer{
		mu:    sync.Mutex{},
		out:   out,
		bar:   nil,
		count: 0,
		limit: limit,
		done:  done,
	}

	if progress {
		p.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("messages"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("msg"),
		)
	}

	return p
}

func (p *printer) handle(msg stream.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.count >= p.limit {
		return nil
	}

	if p.bar != nil {
		if err := p.bar.Add(1); err != nil {
			return err
		}
	} else if _, err := fmt.Fprintln(p.out, FormatMessage(msg)); err != nil {
		return err
	}

	p.count++
	if p.limit > 0 && p.count == p.limit && p.done != nil {
		p.done()
	}

	return nil
}

func (p *printer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
		_, _ = fmt.Fprintln(p.out)
	}
}

func (p *printer) printed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}

// FormatMessage renders a message as a single line.
func FormatMessage(msg stream.Message) string {
	var b strings.Builder

	b.WriteString(msg.Timestamp().Format(time.RFC3339Nano))
	b.WriteByte(' ')

	switch m := msg.(type) {
	case stream.Tick:
		fmt.Fprintf(&b, "trade %s %s %s", m.InstrumentID, m.Side, m.Price.String())
		if qty := formatQuantity(m.Quantity); qty != "" {
			b.WriteString(" x " + qty)
		}
	case stream.Quote:
		fmt.Fprintf(&b, "quote %s bid %s", m.InstrumentID, m.BidPrice.String())
		if qty := formatQuantity(m.BidQuantity); qty != "" {
			b.WriteString(" x " + qty)
		}

		fmt.Fprintf(&b, " ask %s", m.AskPrice.String())
		if qty := formatQuantity(m.AskQuantity); qty != "" {
			b.WriteString(" x " + qty)
		}

		fmt.Fprintf(&b, " spread %s", m.Spread().String())
	}

	if spec := msg.Spec(); spec != "" {
		fmt.Fprintf(&b, " [%s]", spec)
	}

	return b.String()
}

func formatQuantity(q optional.Option[int64]) string {
	v, err := q.Take()
	if err != nil {
		return ""
	}

	return strconv.FormatInt(v, 10)
}
