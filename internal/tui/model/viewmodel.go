package model

import (
	"context"
	"sync"
	"time"

	"github.com/rmaciel7/aide/internal/tui/client"
)

// newHighlight is how long a freshly arrived message is rendered as new.
const newHighlight = 400 * time.Millisecond

// ViewModel caches daemon state for the UI and signals repaints. The visible
// feed is always exactly one calendar day; switching days replaces it
// wholesale, it never merges.
type ViewModel struct {
	mu sync.RWMutex

	client   *client.Client
	day      string // YYYY-MM-DD
	messages []client.Message
	seen     map[string]time.Time
	status   *client.Status
	Flash    Flash

	refreshCh chan struct{}
}

// NewViewModel creates a view model showing today.
func NewViewModel(c *client.Client) *ViewModel {
	return &ViewModel{
		client:    c,
		day:       time.Now().Format("2006-01-02"),
		seen:      make(map[string]time.Time),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Day returns the currently displayed calendar day.
func (vm *ViewModel) Day() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.day
}

// ShiftDay moves the displayed day by delta days and reloads. The old feed
// is discarded before the fetch so a slow load never shows mixed days.
func (vm *ViewModel) ShiftDay(ctx context.Context, delta int) error {
	vm.mu.Lock()
	t, err := time.ParseInLocation("2006-01-02", vm.day, time.Local)
	if err != nil {
		t = time.Now()
	}
	vm.day = t.AddDate(0, 0, delta).Format("2006-01-02")
	vm.messages = nil
	vm.seen = make(map[string]time.Time)
	vm.mu.Unlock()
	vm.signalRefresh()
	return vm.LoadDay(ctx)
}

// LoadDay replaces the feed with the displayed day's messages.
func (vm *ViewModel) LoadDay(ctx context.Context) error {
	vm.mu.RLock()
	day := vm.day
	vm.mu.RUnlock()

	msgs, err := vm.client.Messages(ctx, day)
	if err != nil {
		return err
	}

	// The first load of a day is not "new": only arrivals after it get the
	// highlight stamp.
	vm.mu.Lock()
	if vm.day == day {
		stamp := time.Now()
		if len(vm.seen) == 0 {
			stamp = time.Time{}
		}
		for i := range msgs {
			if _, ok := vm.seen[msgs[i].MsgID]; !ok {
				vm.seen[msgs[i].MsgID] = stamp
			}
		}
		vm.messages = msgs
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Messages returns the current feed snapshot.
func (vm *ViewModel) Messages() []client.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]client.Message, len(vm.messages))
	copy(out, vm.messages)
	return out
}

// IsNew reports whether a message arrived within the highlight window.
func (vm *ViewModel) IsNew(msgID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	at, ok := vm.seen[msgID]
	if !ok || at.IsZero() {
		return false
	}
	return time.Since(at) < newHighlight
}

// LoadStatus fetches current daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Status returns the last fetched daemon status, or nil.
func (vm *ViewModel) Status() *client.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Send queues a prompt through the daemon.
func (vm *ViewModel) Send(ctx context.Context, body string, voice bool) error {
	_, err := vm.client.Send(ctx, body, voice)
	return err
}
