package views

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rmaciel7/aide/internal/tui/client"
)

// MessageThread displays one day of the conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *Theme
	feed     *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *Theme) *MessageThread {
	feed := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	feed.SetBorder(true)
	feed.SetBorderColor(theme.BorderColor)
	feed.SetBackgroundColor(theme.BgColor)
	feed.SetTextColor(theme.FgColor)
	feed.SetTitle(" Conversation ")
	feed.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(feed, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		feed:     feed,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// SetOnSend registers the send callback.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Feed returns the scrollable feed primitive for focus handling.
func (mt *MessageThread) Feed() *tview.TextView { return mt.feed }

// Composer returns the input primitive for focus handling.
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }

// SetBusy greys the composer out while a prompt is being answered.
func (mt *MessageThread) SetBusy(busy bool) {
	if busy {
		mt.composer.SetLabel(" … ")
		mt.composer.SetDisabled(true)
	} else {
		mt.composer.SetLabel(" > ")
		mt.composer.SetDisabled(false)
	}
}

// Update re-renders the feed. isNew flags messages inside the arrival
// highlight window.
func (mt *MessageThread) Update(msgs []client.Message, isNew func(msgID string) bool) {
	mt.feed.Clear()
	for i := range msgs {
		_, _ = fmt.Fprint(mt.feed, mt.renderMessage(&msgs[i], isNew(msgs[i].MsgID)))
	}
	mt.feed.ScrollToEnd()
}

func (mt *MessageThread) renderMessage(m *client.Message, isNew bool) string {
	at := time.UnixMilli(m.CreatedAtUnixMs).Format("15:04")

	name := "aide"
	color := "navajowhite"
	if m.Role == "user" {
		name = "you"
		color = "aqua"
	}

	marker := ""
	if isNew {
		marker = "[green]*[-] "
	}
	suffix := ""
	switch {
	case m.Streaming:
		suffix = " [gray]▌[-]"
	case m.Status == "failed" || m.Status == "error":
		suffix = " [orangered](failed)[-]"
	case m.Status == "sending":
		suffix = " [gray](sending)[-]"
	}

	body := tview.Escape(m.Body)
	if extra := renderSenderVariant(m); extra != "" {
		body += "\n" + extra
	}

	return fmt.Sprintf("%s[gray]%s[-] [%s::b]%s[-:-:-] %s%s\n", marker, at, color, name, body, suffix)
}

// renderSenderVariant formats the structured payload carried by the chase
// and leo senders under the message body.
func renderSenderVariant(m *client.Message) string {
	switch m.Sender {
	case "chase":
		var email struct {
			Subject   string `json:"subject"`
			Body      string `json:"body"`
			Recipient string `json:"recipient"`
		}
		if json.Unmarshal([]byte(m.Metadata), &email) != nil {
			return ""
		}
		return fmt.Sprintf("  [gray]┌ email to %s[-]\n  [gray]│[-] [::b]%s[-:-:-]\n  [gray]│[-] %s",
			tview.Escape(email.Recipient), tview.Escape(email.Subject), tview.Escape(email.Body))
	case "leo":
		var post struct {
			Title    string `json:"title"`
			Caption  string `json:"caption"`
			ImageURL string `json:"image_url"`
		}
		if json.Unmarshal([]byte(m.Metadata), &post) != nil {
			return ""
		}
		out := fmt.Sprintf("  [gray]┌ post[-] [::b]%s[-:-:-]\n  [gray]│[-] %s",
			tview.Escape(post.Title), tview.Escape(post.Caption))
		if post.ImageURL != "" {
			out += "\n  [gray]│ " + tview.Escape(post.ImageURL) + "[-]"
		}
		return out
	default:
		return ""
	}
}
