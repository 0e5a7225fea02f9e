package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings by name.
type Registry struct {
	actions map[string]*Action
	order   []string
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Add registers a keybinding.
func (r *Registry) Add(name string, action *Action) {
	if _, ok := r.actions[name]; !ok {
		r.order = append(r.order, name)
	}
	r.actions[name] = action
}

// Hints returns visible keybinding descriptions in registration order.
func (r *Registry) Hints() []string {
	var hints []string
	for _, name := range r.order {
		if a := r.actions[name]; a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the matching action.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey) bool {
	for _, name := range r.order {
		if a := r.actions[name]; a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
