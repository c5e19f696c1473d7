// Package display renders received messages and status lines.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/lipgloss"
)

// Display shows delivered messages and short status text.
type Display interface {
	ShowMessage(content []byte, rssi float64)
	ShowStatus(text string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ShowMessage([]byte, float64) {}
func (Nop) ShowStatus(string)           {}

const (
	maxPreview = 64
	barWidth   = 10
	minRSSI    = -120.0
	maxRSSI    = -30.0
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("57")).
			Padding(0, 1)

	contentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Bold(true)

	signalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
)

// Console writes styled frames to a terminal.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) ShowMessage(content []byte, rssi float64) {
	body := lipgloss.JoinVertical(lipgloss.Left,
		contentStyle.Render(printable(content, maxPreview)),
		signalStyle.Render(fmt.Sprintf("RSSI %6.1f dBm %s", rssi, bar(rssi))),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, boxStyle.Render(body))
}

func (c *Console) ShowStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, statusStyle.Render(text))
}

// SignalBars maps an RSSI reading onto 0..10 bars.
func SignalBars(rssi float64) int {
	switch {
	case rssi <= minRSSI:
		return 0
	case rssi >= maxRSSI:
		return barWidth
	}
	return int((rssi - minRSSI) / (maxRSSI - minRSSI) * barWidth)
}

func bar(rssi float64) string {
	n := SignalBars(rssi)
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", barWidth-n) + "]"
}

func printable(content []byte, limit int) string {
	var b strings.Builder
	for i, r := range string(content) {
		if i >= limit {
			b.WriteString("...")
			break
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
