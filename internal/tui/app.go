package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rmaciel7/aide/internal/tui/client"
	"github.com/rmaciel7/aide/internal/tui/keys"
	"github.com/rmaciel7/aide/internal/tui/model"
	"github.com/rmaciel7/aide/internal/tui/views"
)

// App is the TUI application shell.
type App struct {
	app       *tview.Application
	vm        *model.ViewModel
	api       *client.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	thread    *views.MessageThread
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := views.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		vm:        model.NewViewModel(c),
		api:       c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		thread:    views.NewMessageThread(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.Add("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.Add("compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.Add("prev_day", &keys.Action{
		Rune: '[', Key: tcell.KeyRune,
		Description: "[:prev day", Visible: true,
		Handler: func() { a.shiftDay(-1) },
	})
	a.registry.Add("next_day", &keys.Action{
		Rune: ']', Key: tcell.KeyRune,
		Description: "]:next day", Visible: true,
		Handler: func() { a.shiftDay(1) },
	})
	a.registry.Add("generate", &keys.Action{
		Rune: 'g', Key: tcell.KeyRune,
		Description: "g:generate scheduled", Visible: true,
		Handler: func() {
			go func() {
				if err := a.api.GenerateScheduled(a.ctx); err != nil {
					a.flash("Generate failed: " + err.Error())
				} else {
					a.flash("Scheduled messages requested")
				}
			}()
		},
	})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		voice := false
		if rest, ok := strings.CutPrefix(text, "/voice "); ok {
			voice = true
			text = rest
		}
		go func() {
			if err := a.vm.Send(a.ctx, text, voice); err != nil {
				if errors.Is(err, client.ErrBusy) {
					a.flash("Still answering the previous prompt")
				} else {
					a.flash("Send failed: " + err.Error())
				}
				return
			}
			a.setBusy(true)
			_ = a.vm.LoadDay(a.ctx)
		}()
	})
}

func (a *App) setupLayout() {
	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// The composer owns its keystrokes; Esc hands focus back.
		if a.app.GetFocus() == a.thread.Composer() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Feed())
				return nil
			}
			return event
		}
		if a.registry.HandleEvent(event) {
			return nil
		}
		return event
	})
}

func (a *App) shiftDay(delta int) {
	go func() {
		if err := a.vm.ShiftDay(a.ctx, delta); err != nil {
			a.flash("Load failed: " + err.Error())
		}
	}()
}

func (a *App) flash(msg string) {
	a.vm.Flash.Set(msg, 5*time.Second)
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

func (a *App) setBusy(busy bool) {
	a.app.QueueUpdateDraw(func() {
		a.thread.SetBusy(busy)
	})
}

// repaint pushes viewmodel state into the widgets.
func (a *App) repaint() {
	a.app.QueueUpdateDraw(func() {
		a.thread.Update(a.vm.Messages(), a.vm.IsNew)
		a.statusBar.SetDay(a.vm.Day())
		if st := a.vm.Status(); st != nil {
			a.statusBar.SetState(st.State)
		}
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// eventLoop drives repaints from the daemon's event stream. A broken stream
// falls back to reconnecting with the feed reloaded in between.
func (a *App) eventLoop() {
	for {
		events, err := a.api.Events(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.flash("Event stream down, retrying")
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-a.ctx.Done():
				return
			}
		}

		_ = a.vm.LoadDay(a.ctx)
		_ = a.vm.LoadStatus(a.ctx)

		for evt := range events {
			switch evt.Kind {
			case "message.upserted", "message.stream_delta", "message.stream_done":
				_ = a.vm.LoadDay(a.ctx)
				if evt.Kind == "message.stream_done" {
					a.setBusy(false)
				}
			case "message.send_failed":
				a.flash("The assistant could not answer")
				a.setBusy(false)
				_ = a.vm.LoadDay(a.ctx)
			case "session.status_changed":
				_ = a.vm.LoadStatus(a.ctx)
			}
		}
		if a.ctx.Err() != nil {
			return
		}
	}
}

// refreshLoop repaints when the viewmodel signals, and keeps the isNew
// highlight window ticking over.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
			a.repaint()
		case <-ticker.C:
			a.repaint()
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI and blocks until quit.
func (a *App) Run() error {
	defer a.cancel()

	go a.eventLoop()
	go a.refreshLoop()
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		_ = a.vm.LoadDay(a.ctx)
	}()

	return a.app.Run()
}
