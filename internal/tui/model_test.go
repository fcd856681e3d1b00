package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denismitr/abook"
)

var (
	ann = abook.NewRecord("Ann", "555-1000", "a@x.com", "1 Main St", "01/01")
	bo  = abook.NewRecord("Bo", "555-2000", "b@x.com", "2 Oak Ave", "02/02")
)

func openStore(t *testing.T, records ...abook.Record) *abook.Store {
	t.Helper()

	s, closer, err := abook.New(filepath.Join(t.TempDir(), "contacts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	for _, r := range records {
		require.NoError(t, s.Add(r).Wait(context.Background()))
	}

	return s
}

func send(t *testing.T, m tea.Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()

	var cmd tea.Cmd
	for _, msg := range msgs {
		m, cmd = m.Update(msg)
	}

	return m.(Model), cmd
}

func shown(m Model) []abook.Record {
	var records []abook.Record
	for _, ent := range m.entries {
		records = append(records, ent.Record)
	}
	return records
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func keyMsg(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func saved(t *testing.T, cmd tea.Cmd) SavedMsg {
	t.Helper()
	require.NotNil(t, cmd)

	msg, ok := cmd().(SavedMsg)
	require.True(t, ok)
	return msg
}

func TestNewModel_ListsRecords(t *testing.T) {
	m := NewModel(openStore(t, ann, bo))

	assert.Equal(t, []abook.Record{ann, bo}, shown(m))
	view := m.View()
	assert.Contains(t, view, "Contacts (2)")
	assert.Contains(t, view, ann.String())
	assert.Contains(t, view, bo.String())
}

func TestNewModel_Empty(t *testing.T) {
	m := NewModel(openStore(t))

	assert.Contains(t, m.View(), "no contacts yet")

	m, cmd := send(t, m, runes("d"))
	assert.Nil(t, cmd)
	assert.Equal(t, modeList, m.mode)

	m, _ = send(t, m, runes("e"))
	assert.Equal(t, modeList, m.mode)
}

func TestModel_CursorMovement(t *testing.T) {
	m := NewModel(openStore(t, ann, bo))

	m, _ = send(t, m, keyMsg(tea.KeyDown), keyMsg(tea.KeyDown))
	assert.Equal(t, 1, m.cursor)

	m, _ = send(t, m, runes("k"), runes("k"))
	assert.Equal(t, 0, m.cursor)
}

func TestModel_Add(t *testing.T) {
	s := openStore(t, ann)
	m := NewModel(s)

	m, _ = send(t, m, runes("a"))
	require.Equal(t, modeForm, m.mode)
	assert.Contains(t, m.View(), "New contact")

	m, _ = send(t, m,
		runes("Bo"), keyMsg(tea.KeyTab),
		runes("555-2000"), keyMsg(tea.KeyTab),
		runes("b@x.com"), keyMsg(tea.KeyTab),
		runes("2 Oak Ave"), keyMsg(tea.KeyTab),
		runes("02/02"),
	)
	m, cmd := send(t, m, keyMsg(tea.KeyEnter))

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, []abook.Record{ann, bo}, s.List())
	assert.Equal(t, []abook.Record{ann, bo}, shown(m))
	assert.Equal(t, 1, m.cursor)

	res := saved(t, cmd)
	assert.NoError(t, res.Err)

	m, _ = send(t, m, res)
	assert.Contains(t, m.View(), "saved")
}

func TestModel_EditPrefillsForm(t *testing.T) {
	s := openStore(t, ann, bo)
	m := NewModel(s)

	m, _ = send(t, m, keyMsg(tea.KeyDown), runes("e"))
	require.Equal(t, modeForm, m.mode)
	assert.Contains(t, m.View(), "Edit contact")

	for i, want := range bo.Fields() {
		assert.Equal(t, want, m.inputs[i].Value())
	}

	m, _ = send(t, m, keyMsg(tea.KeyTab), runes("-9"))
	m, cmd := send(t, m, keyMsg(tea.KeyCtrlS))

	updated := bo
	updated.Phone = "555-2000-9"
	assert.Equal(t, []abook.Record{ann, updated}, s.List())
	assert.NoError(t, saved(t, cmd).Err)
	assert.Equal(t, 1, m.cursor)
}

func TestModel_EditsSelectedDuplicate(t *testing.T) {
	s := openStore(t, ann, bo, ann)
	m := NewModel(s)

	m, _ = send(t, m, keyMsg(tea.KeyDown), keyMsg(tea.KeyDown), runes("e"))
	require.Equal(t, modeForm, m.mode)

	m, _ = send(t, m, keyMsg(tea.KeyTab), runes("-3"))
	m, cmd := send(t, m, keyMsg(tea.KeyCtrlS))
	assert.NoError(t, saved(t, cmd).Err)

	third := ann
	third.Phone = "555-1000-3"
	assert.Equal(t, []abook.Record{ann, bo, third}, s.List())
	assert.Equal(t, []abook.Record{ann, bo, third}, shown(m))
	assert.Equal(t, 2, m.cursor)
}

func TestModel_DeletesSelectedDuplicate(t *testing.T) {
	s := openStore(t, ann, bo, ann)
	m := NewModel(s)
	last := s.Entries()[2].ID

	m, _ = send(t, m, keyMsg(tea.KeyDown), keyMsg(tea.KeyDown))
	_, cmd := send(t, m, runes("d"))
	assert.NoError(t, saved(t, cmd).Err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []abook.Record{ann, bo}, s.List())
	for _, ent := range entries {
		assert.NotEqual(t, last, ent.ID)
	}
}

func TestModel_CancelDoesNotMutate(t *testing.T) {
	s := openStore(t, ann)
	m := NewModel(s)

	m, _ = send(t, m, runes("e"), runes("zzz"))
	m, cmd := send(t, m, keyMsg(tea.KeyEsc))

	assert.Nil(t, cmd)
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, []abook.Record{ann}, s.List())
	assert.Contains(t, m.View(), "cancelled")

	m, _ = send(t, m, runes("a"), runes("Cy"), keyMsg(tea.KeyEsc))
	assert.Equal(t, []abook.Record{ann}, s.List())
}

func TestModel_DeleteSelected(t *testing.T) {
	s := openStore(t, ann, bo)
	m := NewModel(s)

	m, _ = send(t, m, keyMsg(tea.KeyDown))
	m, cmd := send(t, m, runes("d"))

	assert.Equal(t, []abook.Record{ann}, s.List())
	assert.Equal(t, 0, m.cursor)
	assert.NoError(t, saved(t, cmd).Err)
}

func TestModel_SaveErrorIsShown(t *testing.T) {
	m := NewModel(openStore(t))

	m, _ = send(t, m, SavedMsg{Err: abook.ErrStoreClosed})
	assert.Contains(t, m.View(), "could not save")
}

func TestModel_Quit(t *testing.T) {
	tests := []tea.KeyMsg{runes("q"), keyMsg(tea.KeyCtrlC), keyMsg(tea.KeyEsc)}
	for _, k := range tests {
		t.Run(k.String(), func(t *testing.T) {
			_, cmd := send(t, NewModel(openStore(t)), k)
			require.NotNil(t, cmd)
			assert.Equal(t, tea.Quit(), cmd())
		})
	}
}

func TestModel_TypingQInFormDoesNotQuit(t *testing.T) {
	m := NewModel(openStore(t))

	m, _ = send(t, m, runes("a"), runes("q"))
	assert.Equal(t, modeForm, m.mode)
	assert.Equal(t, "q", m.inputs[0].Value())
}

func TestModel_Teatest_AddAndQuit(t *testing.T) {
	s := openStore(t)

	tm := teatest.NewTestModel(t, NewModel(s), teatest.WithInitialTermSize(100, 24))

	tm.Send(runes("a"))
	tm.Type("Ann")
	tm.Send(keyMsg(tea.KeyCtrlS))
	tm.Send(runes("q"))

	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final := tm.FinalModel(t).(Model)
	require.Len(t, final.entries, 1)
	assert.Equal(t, "Ann", final.entries[0].Record.Name)
	assert.True(t, strings.HasPrefix(final.entries[0].Record.String(), "Ann"))
	require.NoError(t, s.Flush(context.Background()))
}
