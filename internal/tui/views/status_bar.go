package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays session, daemon state and the displayed day.
type StatusBar struct {
	*tview.TextView
	session string
	state   string
	day     string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetState updates the daemon state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetDay updates the displayed-day indicator.
func (sb *StatusBar) SetDay(day string) {
	sb.day = day
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s | %s", sb.session, sb.state, sb.day, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
