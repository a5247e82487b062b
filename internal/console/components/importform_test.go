package components

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImporter struct {
	strategy string
	params   []string
	calls    int
	err      error
}

func (f *fakeImporter) ImportNewAccount(_ context.Context, strategy string, params []string) (string, error) {
	f.calls++
	f.strategy, f.params = strategy, params
	if f.err != nil {
		return "", f.err
	}
	return params[0], nil
}

// run executes cmd and any batch it returns, collecting the messages
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func enter() tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyEnter} }

func TestImportFormSubmitDisabledOnlyWhenEmpty(t *testing.T) {
	f := NewImportForm(&fakeImporter{})
	assert.True(t, f.SubmitDisabled())
	f.SetValue(" ")
	assert.False(t, f.SubmitDisabled())
	f.SetValue("not an address")
	assert.False(t, f.SubmitDisabled())
	f.SetValue("")
	assert.True(t, f.SubmitDisabled())
	assert.Nil(t, f.Update(enter()))
}

func TestImportFormSubmitsAddressStrategy(t *testing.T) {
	imp := &fakeImporter{}
	f := NewImportForm(imp)
	f.SetValue("0x8617e340b3d01fa5f11f306f4090fd50e238070d")

	msgs := run(f.Update(enter()))
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, imp.calls)
	assert.Equal(t, "Address", imp.strategy)
	assert.Equal(t, []string{"0x8617e340b3d01fa5f11f306f4090fd50e238070d"}, imp.params)

	out := run(f.Update(msgs[0]))
	assert.Contains(t, out, ImportedMsg{Address: "0x8617e340b3d01fa5f11f306f4090fd50e238070d"})
	assert.Contains(t, out, NavigateMsg{Page: PageOverview})
	assert.Empty(t, f.Warning())
	assert.Empty(t, f.Value())
}

func TestImportFormShowsDaemonError(t *testing.T) {
	imp := &fakeImporter{err: errors.New("invalid address")}
	f := NewImportForm(imp)
	f.SetValue("0x1234")

	msgs := run(f.Update(enter()))
	require.Len(t, msgs, 1)
	assert.Nil(t, f.Update(msgs[0]))
	assert.Equal(t, "invalid address", f.Warning())
	assert.Equal(t, "0x1234", f.Value())
	assert.Contains(t, f.View(), "invalid address")

	// the form stays usable after an error
	imp.err = nil
	msgs = run(f.Update(enter()))
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, imp.calls)
}

func TestImportFormCancel(t *testing.T) {
	f := NewImportForm(&fakeImporter{})
	f.DisplayWarning("duplicate account")

	msgs := run(f.Update(tea.KeyMsg{Type: tea.KeyEsc}))
	assert.Equal(t, []tea.Msg{NavigateMsg{Page: PageOverview}}, msgs)
	assert.Empty(t, f.Warning())
}
