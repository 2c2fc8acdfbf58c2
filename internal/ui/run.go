package ui

import (
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrCancelled is returned when the user backs out of a picker or prompt.
var ErrCancelled = errors.New("cancelled")

type selectModel struct {
	sel *Selector
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.sel.Update(msg)
	if !m.sel.Active() {
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) View() string { return m.sel.View() }

type promptModel struct {
	prompt *Prompt
}

func (m promptModel) Init() tea.Cmd { return nil }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	_, cmd := m.prompt.Update(msg)
	if m.prompt.Done() {
		return m, tea.Quit
	}
	return m, cmd
}

func (m promptModel) View() string { return m.prompt.View() }

// Select shows an interactive list and returns the chosen item ID.
func Select(in io.Reader, out io.Writer, title string, items []SelectorItem) (string, error) {
	if len(items) == 0 {
		return "", errors.New("nothing to select")
	}
	sel := NewSelector(title, items)
	if _, err := tea.NewProgram(selectModel{sel: &sel}, tea.WithInput(in), tea.WithOutput(out)).Run(); err != nil {
		return "", err
	}
	if sel.Cancelled() {
		return "", ErrCancelled
	}
	return sel.Selected(), nil
}

// Ask reads one line of text. An empty answer is allowed.
func Ask(in io.Reader, out io.Writer, label, placeholder string) (string, error) {
	p := NewPrompt(label, placeholder)
	if _, err := tea.NewProgram(promptModel{prompt: &p}, tea.WithInput(in), tea.WithOutput(out)).Run(); err != nil {
		return "", err
	}
	if p.Cancelled() {
		return "", ErrCancelled
	}
	return p.Value(), nil
}
