package render

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

// Printer writes conversation entries to a terminal, one line per entry.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	policy *bluemonday.Policy
	layout string
}

// NewPrinter writes to w using HH:MM timestamps.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		policy: bluemonday.StrictPolicy(),
		layout: "15:04",
	}
}

// Entry prints one entry.
func (p *Printer) Entry(e chat.Entry) {
	line := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Local().Format(p.layout), Label(e.Sender), p.Clean(e.Content))

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// Entries prints a batch in order.
func (p *Printer) Entries(entries []chat.Entry) {
	for _, e := range entries {
		p.Entry(e)
	}
}

// Status prints the connection indicator.
func (p *Printer) Status(state chat.ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "-- %s --\n", StatusText(state))
}

// Clean strips markup and terminal control characters from text.
func (p *Printer) Clean(text string) string {
	stripped := html.UnescapeString(p.policy.Sanitize(text))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
}

// Label names a sender for display. Unknown senders keep their raw value.
func Label(s chat.Sender) string {
	switch s {
	case chat.SenderUser:
		return "You"
	case chat.SenderSystem:
		return "System"
	case chat.SenderBot:
		return "Bot"
	case "":
		return "?"
	default:
		return string(s)
	}
}

// StatusText is the human form of a connection state.
func StatusText(state chat.ConnectionState) string {
	switch state {
	case chat.StateOpen:
		return "Connected"
	case chat.StateConnecting:
		return "Connecting"
	case chat.StateReconnecting:
		return "Reconnecting"
	default:
		return "Disconnected"
	}
}
