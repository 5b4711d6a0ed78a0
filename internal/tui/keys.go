package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds every binding of the viewer.
type keyMap struct {
	Quit       key.Binding
	Open       key.Binding
	Fetch      key.Binding
	CancelLoad key.Binding

	NextMode   key.Binding
	PrevMode   key.Binding
	NextFilter key.Binding
	PrevFilter key.Binding

	NextRelations key.Binding
	PrevRelations key.Binding
	FollowOut     key.Binding
	FollowIn      key.Binding

	Down     key.Binding
	Up       key.Binding
	PageDown key.Binding
	PageUp   key.Binding
	Top      key.Binding
	Bottom   key.Binding

	Select    key.Binding
	Collapse  key.Binding
	ExpandAll key.Binding
	Back      key.Binding

	PanLeft      key.Binding
	PanRight     key.Binding
	ZoomIn       key.Binding
	ZoomOut      key.Binding
	TimelineIn   key.Binding
	TimelineOut  key.Binding
	TimelineFit  key.Binding
	Analyze      key.Binding
	PromptSubmit key.Binding
	PromptCancel key.Binding
}

var keys = keyMap{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Open:       key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open")),
	Fetch:      key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "fetch")),
	CancelLoad: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel load")),

	NextMode:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mode")),
	PrevMode:   key.NewBinding(key.WithKeys("M")),
	NextFilter: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "filter")),
	PrevFilter: key.NewBinding(key.WithKeys("F")),

	NextRelations: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "relations")),
	PrevRelations: key.NewBinding(key.WithKeys("V")),
	FollowOut:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n/N", "follow relation")),
	FollowIn:      key.NewBinding(key.WithKeys("N")),

	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↑↓", "move")),
	Up:       key.NewBinding(key.WithKeys("k", "up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown")),
	PageUp:   key.NewBinding(key.WithKeys("pgup")),
	Top:      key.NewBinding(key.WithKeys("home", "g")),
	Bottom:   key.NewBinding(key.WithKeys("end", "G")),

	Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Collapse:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "collapse")),
	ExpandAll: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "expand all")),
	Back:      key.NewBinding(key.WithKeys("esc")),

	PanLeft:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←→", "pan")),
	PanRight:    key.NewBinding(key.WithKeys("right", "l")),
	ZoomIn:      key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+-", "zoom")),
	ZoomOut:     key.NewBinding(key.WithKeys("-")),
	TimelineIn:  key.NewBinding(key.WithKeys("]")),
	TimelineOut: key.NewBinding(key.WithKeys("[")),
	TimelineFit: key.NewBinding(key.WithKeys("0")),
	Analyze:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "analyze")),

	PromptSubmit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	PromptCancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

// ShortHelp lists the bindings shown in the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Open, k.NextMode, k.NextFilter, k.PanLeft, k.ZoomIn,
		k.Collapse, k.Select, k.Analyze, k.Quit,
	}
}

// FullHelp is ShortHelp plus the rarer bindings.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		k.ShortHelp(),
		{k.Fetch, k.CancelLoad, k.ExpandAll, k.Down, k.NextRelations, k.FollowOut},
	}
}
