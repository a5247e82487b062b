package components

import (
	"context"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/internal/console/styles"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Importer imports accounts into the wallet
type Importer interface {
	ImportNewAccount(ctx context.Context, strategy string, params []string) (string, error)
}

// Page names a console view
type Page int

const (
	PageOverview Page = iota
	PageImport
	PageSign
)

// NavigateMsg asks the console to switch pages
type NavigateMsg struct {
	Page Page
}

// ImportedMsg reports an account the form imported
type ImportedMsg struct {
	Address string
}

type importResultMsg struct {
	address string
	err     error
}

// StrategyAddress is the import strategy of the address form
const StrategyAddress = "Address"

type importKeys struct {
	Submit key.Binding
	Cancel key.Binding
}

var importKeyMap = importKeys{
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "import")),
	Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

// ImportForm imports a watch-only account by address.
// The address is not validated here, the daemon's answer is shown as a warning.
type ImportForm struct {
	input     textinput.Model
	importer  Importer
	warning   string
	importing bool
	timeout   time.Duration
}

func NewImportForm(importer Importer) *ImportForm {
	ti := textinput.New()
	ti.Placeholder = "0x..."
	ti.CharLimit = 128
	ti.Width = 46
	ti.Prompt = "Address: "
	return &ImportForm{input: ti, importer: importer, timeout: 30 * time.Second}
}

// Focus focuses the address input
func (f *ImportForm) Focus() tea.Cmd {
	return f.input.Focus()
}

// Value returns the raw input
func (f *ImportForm) Value() string {
	return f.input.Value()
}

// SetValue replaces the input
func (f *ImportForm) SetValue(v string) {
	f.input.SetValue(v)
}

// SubmitDisabled reports whether the import button is disabled
func (f *ImportForm) SubmitDisabled() bool {
	return f.input.Value() == ""
}

// DisplayWarning shows msg under the form; "" hides it
func (f *ImportForm) DisplayWarning(msg string) {
	f.warning = msg
}

// Warning returns the warning shown under the form
func (f *ImportForm) Warning() string {
	return f.warning
}

// Submit imports the current input
func (f *ImportForm) Submit() tea.Cmd {
	if f.SubmitDisabled() || f.importing {
		return nil
	}
	f.importing = true
	value := f.input.Value()
	importer, timeout := f.importer, f.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		addr, err := importer.ImportNewAccount(ctx, StrategyAddress, []string{value})
		return importResultMsg{address: addr, err: err}
	}
}

// Cancel clears the warning and returns to the overview
func (f *ImportForm) Cancel() tea.Cmd {
	f.DisplayWarning("")
	return navigate(PageOverview)
}

func (f *ImportForm) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case importResultMsg:
		f.importing = false
		if msg.err != nil {
			f.DisplayWarning(msg.err.Error())
			return nil
		}
		f.DisplayWarning("")
		f.input.Reset()
		address := msg.address
		return tea.Batch(
			func() tea.Msg { return ImportedMsg{Address: address} },
			navigate(PageOverview),
		)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, importKeyMap.Submit):
			return f.Submit()
		case key.Matches(msg, importKeyMap.Cancel):
			return f.Cancel()
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return cmd
}

func (f *ImportForm) View() string {
	var b strings.Builder
	b.WriteString(styles.HeaderStyle.Render("Import account"))
	b.WriteString("\n")
	b.WriteString(styles.MutedStyle.Render("Paste the address of the account to watch. Transactions are signed elsewhere."))
	b.WriteString("\n\n")
	b.WriteString(f.input.View())
	b.WriteString("\n\n")

	submit := styles.ButtonStyle.Render("Import")
	if f.SubmitDisabled() {
		submit = styles.DisabledButtonStyle.Render("Import")
	}
	b.WriteString(submit + "  " + styles.SecondaryButtonStyle.Render("Cancel"))

	if f.warning != "" {
		b.WriteString("\n\n")
		b.WriteString(styles.WarningStyle.Render("! " + f.warning))
	}
	b.WriteString("\n")
	b.WriteString(styles.HelpDescStyle.Render(importKeyMap.Submit.Help().Key + " " + importKeyMap.Submit.Help().Desc +
		"  " + importKeyMap.Cancel.Help().Key + " " + importKeyMap.Cancel.Help().Desc))
	return b.String()
}

func navigate(p Page) tea.Cmd {
	return func() tea.Msg { return NavigateMsg{Page: p} }
}
