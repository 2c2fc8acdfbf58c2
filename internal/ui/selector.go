package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem is one row of a picker. For account pickers ID is the owner
// address and Label the display name.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	Current     bool
}

func (it SelectorItem) matches(filter string) bool {
	if filter == "" {
		return true
	}
	f := strings.ToLower(filter)
	return strings.Contains(strings.ToLower(it.ID), f) || strings.Contains(strings.ToLower(it.Label), f)
}

// Selector picks one item from a list. Pressing / starts a filter on ID
// and label, which helps with long address lists.
type Selector struct {
	title     string
	items     []SelectorItem
	visible   []int // indexes into items
	cursor    int   // index into visible
	filter    string
	filtering bool
	chosen    string
	done      bool
	cancelled bool
}

func NewSelector(title string, items []SelectorItem) Selector {
	s := Selector{title: title, items: items}
	s.refilter()
	for i, idx := range s.visible {
		if items[idx].Current {
			s.cursor = i
			break
		}
	}
	return s
}

func (s *Selector) refilter() {
	s.visible = s.visible[:0]
	for i, it := range s.items {
		if it.matches(s.filter) {
			s.visible = append(s.visible, i)
		}
	}
	if s.cursor >= len(s.visible) {
		s.cursor = max(len(s.visible)-1, 0)
	}
}

func (s *Selector) Active() bool { return !s.done }

// Selected returns the chosen ID, empty when cancelled or still open.
func (s *Selector) Selected() string { return s.chosen }

func (s *Selector) Cancelled() bool { return s.cancelled }

// Filter returns the current filter text.
func (s *Selector) Filter() string { return s.filter }

func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || s.done {
		return s, nil
	}

	if s.filtering {
		switch key.Type {
		case tea.KeyRunes:
			s.filter += string(key.Runes)
			s.refilter()
			return s, nil
		case tea.KeyBackspace:
			if s.filter != "" {
				s.filter = s.filter[:len(s.filter)-1]
				s.refilter()
			}
			return s, nil
		case tea.KeyEsc:
			s.filtering = false
			s.filter = ""
			s.refilter()
			return s, nil
		}
	}

	switch key.String() {
	case "/":
		s.filtering = true
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.visible)-1 {
			s.cursor++
		}
	case "enter":
		if len(s.visible) == 0 {
			return s, nil
		}
		s.chosen = s.items[s.visible[s.cursor]].ID
		s.done = true
	case "esc", "q", "ctrl+c":
		s.cancelled = true
		s.done = true
	}
	return s, nil
}

func (s *Selector) View() string {
	if s.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(HelpStyle.Render(s.title + " (↑/↓ move, / filter, enter select, esc cancel)"))
	b.WriteString("\n")
	if s.filtering {
		b.WriteString(PromptStyle.Render("filter: ") + s.filter)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(s.visible) == 0 {
		b.WriteString(SelectorDim.Render("  no match"))
		b.WriteString("\n")
		return b.String()
	}

	for i, idx := range s.visible {
		it := s.items[idx]
		label := it.Label
		if label == "" {
			label = it.ID
		}
		label = fmt.Sprintf("%-44s", label)

		if i == s.cursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " " + SelectorActive.Render(label))
		} else {
			b.WriteString("  " + SelectorItemStyle.Render(label))
		}

		desc := it.Description
		if it.Current {
			desc = strings.TrimSpace(desc + " (current)")
		}
		if desc != "" {
			b.WriteString(SelectorDim.Render(desc))
		}
		b.WriteString("\n")
	}
	return b.String()
}
