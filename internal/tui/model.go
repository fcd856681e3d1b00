// Package tui is the interactive terminal front end of the address book.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/denismitr/abook"
)

// Contacts is the part of the store the UI needs.
type Contacts interface {
	Entries() []abook.Entry
	Add(r abook.Record) *abook.Op
	DeleteByID(id abook.ID) *abook.Op
	UpdateByID(id abook.ID, updated abook.Record) *abook.Op
}

type mode int

const (
	modeList mode = iota
	modeForm
)

var fieldLabels = [5]string{"Name", "Phone", "Email", "Address", "Birthday"}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("8"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// SavedMsg reports the outcome of a background save.
type SavedMsg struct {
	Err error
}

type Model struct {
	store   Contacts
	entries []abook.Entry
	cursor  int

	mode    mode
	inputs  [5]textinput.Model
	focus   int
	editing *abook.Entry

	status string
	err    error
}

func NewModel(store Contacts) Model {
	m := Model{store: store}
	for i := range m.inputs {
		in := textinput.New()
		in.Placeholder = strings.ToLower(fieldLabels[i])
		in.CharLimit = 256
		m.inputs[i] = in
	}

	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m *Model) refresh() {
	m.entries = m.store.Entries()
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func waitFor(op *abook.Op) tea.Cmd {
	return func() tea.Msg {
		return SavedMsg{Err: op.Wait(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SavedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.status = "saved"
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}

		if m.mode == modeForm {
			return m.updateForm(msg)
		}

		return m.updateList(msg)
	}

	if m.mode == modeForm {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "a":
		return m.openForm(nil)
	case "e", "enter":
		if len(m.entries) == 0 {
			return m, nil
		}
		selected := m.entries[m.cursor]
		return m.openForm(&selected)
	case "d":
		if len(m.entries) == 0 {
			return m, nil
		}
		op := m.store.DeleteByID(m.entries[m.cursor].ID)
		m.refresh()
		m.status = "deleted"
		return m, waitFor(op)
	}

	return m, nil
}

// openForm shows the contact form, pre-filled when editing an existing
// record.
func (m Model) openForm(editing *abook.Entry) (tea.Model, tea.Cmd) {
	var values [5]string
	if editing != nil {
		values = editing.Record.Fields()
	}

	for i := range m.inputs {
		m.inputs[i].SetValue(values[i])
		m.inputs[i].CursorEnd()
		m.inputs[i].Blur()
	}

	m.mode = modeForm
	m.editing = editing
	m.focus = 0
	m.status = ""
	return m, m.inputs[0].Focus()
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.editing = nil
		m.status = "cancelled"
		return m, nil
	case "tab", "down":
		return m.focusOn((m.focus + 1) % len(m.inputs))
	case "shift+tab", "up":
		return m.focusOn((m.focus + len(m.inputs) - 1) % len(m.inputs))
	case "enter":
		if m.focus < len(m.inputs)-1 {
			return m.focusOn(m.focus + 1)
		}
		return m.submit()
	case "ctrl+s":
		return m.submit()
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) focusOn(i int) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = i
	return m, m.inputs[i].Focus()
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	r := abook.NewRecord(
		m.inputs[0].Value(),
		m.inputs[1].Value(),
		m.inputs[2].Value(),
		m.inputs[3].Value(),
		m.inputs[4].Value(),
	)

	var op *abook.Op
	if m.editing != nil {
		op = m.store.UpdateByID(m.editing.ID, r)
		m.status = "updated"
	} else {
		op = m.store.Add(r)
		m.status = "added"
		m.cursor = len(m.entries)
	}

	m.mode = modeList
	m.editing = nil
	m.refresh()
	return m, waitFor(op)
}

func (m Model) View() string {
	var b strings.Builder

	if m.mode == modeForm {
		title := "New contact"
		if m.editing != nil {
			title = "Edit contact"
		}
		b.WriteString(titleStyle.Render(title) + "\n\n")
		for i, in := range m.inputs {
			b.WriteString(labelStyle.Render(fieldLabels[i]) + in.View() + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("tab next field • enter save on last field • ctrl+s save • esc cancel") + "\n")
		return b.String()
	}

	b.WriteString(titleStyle.Render(fmt.Sprintf("Contacts (%d)", len(m.entries))) + "\n\n")
	if len(m.entries) == 0 {
		b.WriteString(helpStyle.Render("  no contacts yet") + "\n")
	}

	for i, ent := range m.entries {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+ent.Record.String()) + "\n")
			continue
		}
		b.WriteString("  " + ent.Record.String() + "\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("could not save: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(helpStyle.Render(m.status) + "\n")
	}
	b.WriteString(helpStyle.Render("a add • e edit • d delete • q quit") + "\n")

	return b.String()
}
