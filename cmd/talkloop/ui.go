package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/talkloop/talkloop/internal/session"
	"github.com/talkloop/talkloop/internal/transcript"
)

const (
	meterWidth  = 24
	meterRedraw = 100 * time.Millisecond
)

var (
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	meterOnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("120"))
	meterOffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// consoleUI renders the conversation in the terminal: status line changes,
// streaming transcript turns, and a VU intensity bar while listening. It
// is the session's visual feedback sink.
type consoleUI struct {
	intensity atomic.Uint64 // float64 bits, eased by the detection loop
}

func newConsoleUI() *consoleUI { return &consoleUI{} }

// SetIntensity receives the eased mic intensity in [0, 1].
func (u *consoleUI) SetIntensity(v float64) {
	u.intensity.Store(math.Float64bits(v))
}

// Run renders until the session ends or ctx is canceled.
func (u *consoleUI) Run(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(meterRedraw)
	defer ticker.Stop()

	status := sess.Status()
	lastTurns := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			fmt.Print("\r\033[K")
			return
		case status = <-sess.StatusEvents():
			fmt.Printf("\r\033[K%s\n", statusStyle.Render("["+status.String()+"]"))
		case evt := <-sess.Transcript().Events():
			lastTurns = u.renderTurns(evt.Turns, lastTurns)
		case <-ticker.C:
			if status == session.StatusListening {
				fmt.Printf("\r\033[K%s", u.meter())
			}
		}
	}
}

// renderTurns prints new turns and rewrites the in-progress assistant
// line as partial fragments stream in.
func (u *consoleUI) renderTurns(turns []transcript.Turn, printed int) int {
	if len(turns) == 0 {
		return printed
	}
	// completed turns since last render
	for i := printed; i < len(turns)-1; i++ {
		fmt.Printf("\r\033[K%s\n", renderTurn(turns[i]))
	}
	last := turns[len(turns)-1]
	if last.Role == transcript.RoleAssistant {
		// growing turn: overwrite in place until it completes
		fmt.Printf("\r\033[K%s", renderTurn(last))
		return len(turns) - 1
	}
	fmt.Printf("\r\033[K%s\n", renderTurn(last))
	return len(turns)
}

func renderTurn(t transcript.Turn) string {
	if t.Role == transcript.RoleUser {
		return userStyle.Render("you: ") + t.Text
	}
	return assistantStyle.Render("agent: ") + t.Text
}

// meter renders the VU bar from the current eased intensity.
func (u *consoleUI) meter() string {
	v := math.Float64frombits(u.intensity.Load())
	on := int(v * meterWidth)
	if on > meterWidth {
		on = meterWidth
	}
	var b strings.Builder
	b.WriteString(statusStyle.Render("mic "))
	b.WriteString(meterOnStyle.Render(strings.Repeat("▮", on)))
	b.WriteString(meterOffStyle.Render(strings.Repeat("▯", meterWidth-on)))
	return b.String()
}
