package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the watcher.
type KeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Start  key.Binding
	End    key.Binding
	Kill   key.Binding
	Resync key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev player"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next player"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start (host)"),
		),
		End: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "end (host)"),
		),
		Kill: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "report kill of selected (host)"),
		),
		Resync: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "resync"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp lists the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Start, k.End, k.Kill, k.Resync, k.Quit}
}
