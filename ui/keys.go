package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Switch   key.Binding
	Clear    key.Binding
	Autoplay key.Binding
	PlayNext key.Binding
	Played   key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
	Confirm  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Switch, k.Autoplay, k.PlayNext, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Switch, k.Clear, k.Autoplay},
		{k.PlayNext, k.Played, k.Refresh},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Switch: key.NewBinding(
		key.WithKeys("s", "tab"),
		key.WithHelp("s", "switch lane"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear lane"),
	),
	Autoplay: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle autoplay"),
	),
	PlayNext: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "play next"),
	),
	Played: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "mark played"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Confirm: key.NewBinding(key.WithKeys("y", "Y")),
}
