// Package tui renders one widget session in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fayispachu/weather-widget/internal/models"
	"github.com/fayispachu/weather-widget/internal/session"
	"github.com/fayispachu/weather-widget/internal/validation"
)

// Session is the part of session.Session the widget drives.
type Session interface {
	SetSearch(text string) (session.View, error)
	SelectCity(name string) (session.View, error)
	View() session.View
	Subscribe() (<-chan session.View, func())
}

type viewMsg session.View

type sessionClosedMsg struct{}

type keyMap struct {
	Up    key.Binding
	Down  key.Binding
	Enter key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Enter}, {k.Quit}}
}

var keys = keyMap{
	Up:    key.NewBinding(key.WithKeys("up", "ctrl+p"), key.WithHelp("↑", "previous city")),
	Down:  key.NewBinding(key.WithKeys("down", "ctrl+n"), key.WithHelp("↓", "next city")),
	Enter: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Quit:  key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

// Model is the bubbletea model for the widget.
type Model struct {
	session     Session
	views       <-chan session.View
	unsubscribe func()

	input   textinput.Model
	spinner spinner.Model
	help    help.Model

	view     session.View
	cursor   int
	inputErr string
	width    int
}

// New subscribes to s. Call Close when the program exits.
func New(s Session) Model {
	ti := textinput.New()
	ti.Placeholder = "Search city..."
	ti.CharLimit = validation.MaxSearchLength
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	views, unsubscribe := s.Subscribe()
	return Model{
		session:     s,
		views:       views,
		unsubscribe: unsubscribe,
		input:       ti,
		spinner:     sp,
		help:        help.New(),
		view:        s.View(),
	}
}

// Close drops the session subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func waitForView(views <-chan session.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return sessionClosedMsg{}
		}
		return viewMsg(v)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForView(m.views))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case viewMsg:
		m.view = session.View(msg)
		m.clampCursor()
		return m, waitForView(m.views)

	case sessionClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.view.Suggestions)-1 {
				m.cursor++
			}
			return m, nil
		case key.Matches(msg, keys.Enter):
			return m.selectHighlighted(), nil
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.search(after)
	}
	return m, cmd
}

func (m *Model) search(text string) {
	clean, err := validation.ValidateSearch(text)
	if err != nil {
		m.inputErr = err.Error()
		return
	}
	m.inputErr = ""
	if v, err := m.session.SetSearch(clean); err == nil {
		m.view = v
		m.cursor = 0
	}
}

func (m Model) selectHighlighted() Model {
	if !m.view.ShowSuggestions || m.cursor >= len(m.view.Suggestions) {
		return m
	}
	if v, err := m.session.SelectCity(m.view.Suggestions[m.cursor]); err == nil {
		m.view = v
	}
	m.input.SetValue("")
	m.cursor = 0
	return m
}

func (m *Model) clampCursor() {
	if n := len(m.view.Suggestions); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Weather"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.inputErr != "" {
		b.WriteString(SubtleStyle.Render(m.inputErr))
		b.WriteString("\n")
	}
	if m.view.ShowSuggestions {
		b.WriteString(m.suggestionsView())
		b.WriteString("\n")
	}
	b.WriteString(m.stateView())
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(m.help.View(keys)))
	return b.String()
}

func (m Model) suggestionsView() string {
	lines := make([]string, 0, len(m.view.Suggestions))
	for i, city := range m.view.Suggestions {
		if i == m.cursor {
			lines = append(lines, SelectedSuggestionStyle.Render("→ "+city))
			continue
		}
		lines = append(lines, SuggestionStyle.Render(city))
	}
	return SuggestionBoxStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) stateView() string {
	switch st := m.view.State.(type) {
	case session.Loading:
		return fmt.Sprintf("%s Loading weather for %s...", m.spinner.View(), st.City)
	case session.Errored:
		return ErrorStyle.Render(st.Message)
	case session.Loaded:
		return m.card(st.Snapshot)
	default:
		return ""
	}
}

func (m Model) card(s models.Snapshot) string {
	lines := []string{
		TemperatureStyle.Render(s.DisplayTemperature()),
		s.Location,
		s.Condition,
		SubtleStyle.Render(s.Description),
	}
	if u := s.IconURL(); u != "" {
		lines = append(lines, SubtleStyle.Render(u))
	}
	style := CardStyle
	if m.width > 4 {
		style = style.MaxWidth(m.width)
	}
	return style.Render(strings.Join(lines, "\n"))
}
