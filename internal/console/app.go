package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/internal/console/api"
	"github.com/abcfe/abcfe-wallet/internal/console/components"
	"github.com/abcfe/abcfe-wallet/internal/console/styles"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kelseyhightower/envconfig"
)

// Config is the console configuration, read from ABCFE_CONSOLE_* variables
type Config struct {
	Host       string `envconfig:"HOST" default:"127.0.0.1"`
	Port       int    `envconfig:"PORT" default:"8600"`
	LogPath    string `envconfig:"LOG_PATH" default:"./log/abcfe-wallet"`
	RefreshSec int    `envconfig:"REFRESH_SEC" default:"1"`
	QRFrameMs  int    `envconfig:"QR_FRAME_MS" default:"300"`
}

// LoadConfig reads the console configuration from the environment
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("abcfe_console", &cfg); err != nil {
		return Config{}, fmt.Errorf("console config: %w", err)
	}
	if cfg.RefreshSec <= 0 {
		cfg.RefreshSec = 1
	}
	return cfg, nil
}

// Backend is the daemon API used by the console
type Backend interface {
	components.Importer
	components.Resolver
	GetStatus(ctx context.Context) (*api.WalletStatus, error)
	GetAccounts(ctx context.Context) (*api.Accounts, error)
	GetSignRequests(ctx context.Context) ([]api.SignRequest, error)
	SelectAccount(ctx context.Context, address string) error
}

// Model is the bubbletea model of the console
type Model struct {
	config    Config
	backend   Backend
	page      components.Page
	status    *api.WalletStatus
	online    bool
	lastErr   string
	notice    string
	accounts  *components.AccountsView
	form      *components.ImportForm
	prompt    *components.SignPrompt
	logViewer *components.LogViewer
	width     int
	quitting  bool
}

// Run starts the console
func Run(config Config) error {
	m := NewModel(config, api.NewClient(config.Host, config.Port))
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func NewModel(config Config, backend Backend) *Model {
	return &Model{
		config:    config,
		backend:   backend,
		accounts:  components.NewAccountsView(),
		form:      components.NewImportForm(backend),
		prompt:    components.NewSignPrompt(backend, time.Duration(config.QRFrameMs)*time.Millisecond),
		logViewer: components.NewLogViewer(config.LogPath, 8),
	}
}

type tickMsg time.Time

type refreshMsg struct {
	status   *api.WalletStatus
	accounts *api.Accounts
	requests []api.SignRequest
	err      error
}

type selectResultMsg struct{ err error }

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.config.RefreshSec), m.refresh())
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) refresh() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := backend.GetStatus(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		msg := refreshMsg{status: status}
		if status.IsUnlocked {
			msg.accounts, _ = backend.GetAccounts(ctx)
		}
		msg.requests, _ = backend.GetSignRequests(ctx)
		return msg
	}
}

// Page returns the page on screen
func (m *Model) Page() components.Page {
	return m.page
}

// Form returns the import form
func (m *Model) Form() *components.ImportForm {
	return m.form
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.logViewer.Refresh()
		return m, tea.Batch(tickCmd(m.config.RefreshSec), m.refresh())

	case refreshMsg:
		if msg.err != nil {
			m.online = false
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.online = true
		m.lastErr = ""
		m.status = msg.status
		m.accounts.Set(msg.accounts)
		cmd := m.prompt.SetRequests(msg.requests)
		// a new request takes the screen unless the user is typing an address
		if m.prompt.Request() != nil && m.page == components.PageOverview {
			m.page = components.PageSign
			return m, tea.Batch(cmd, m.prompt.Focus())
		}
		return m, cmd

	case components.NavigateMsg:
		m.page = msg.Page
		switch msg.Page {
		case components.PageImport:
			return m, m.form.Focus()
		case components.PageSign:
			return m, m.prompt.Focus()
		}
		return m, m.refresh()

	case components.ImportedMsg:
		m.notice = "imported " + msg.Address
		return m, nil

	case components.ResolvedMsg:
		if msg.Rejected {
			m.notice = "rejected " + msg.ID
		} else {
			m.notice = "signature sent for " + msg.ID
		}
		m.page = components.PageOverview
		return m, m.refresh()

	case selectResultMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		return m, m.refresh()
	}

	switch m.page {
	case components.PageImport:
		return m, m.form.Update(msg)
	case components.PageSign:
		return m, m.prompt.Update(msg)
	}
	return m, m.updateOverview(msg)
}

func (m *Model) updateOverview(msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch keyMsg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "i":
		return func() tea.Msg { return components.NavigateMsg{Page: components.PageImport} }
	case "s":
		return func() tea.Msg { return components.NavigateMsg{Page: components.PageSign} }
	case "r":
		return m.refresh()
	case "up", "k":
		m.accounts.Up()
	case "down", "j":
		m.accounts.Down()
	case "enter":
		addr := m.accounts.Current()
		if addr == "" {
			return nil
		}
		backend := m.backend
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return selectResultMsg{err: backend.SelectAccount(ctx, addr)}
		}
	}
	return nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	switch m.page {
	case components.PageImport:
		b.WriteString(m.form.View())
	case components.PageSign:
		b.WriteString(m.prompt.View())
	default:
		b.WriteString(m.accounts.Render())
		if m.notice != "" {
			b.WriteString(styles.MutedStyle.Render("  " + m.notice))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.logViewer.Render(m.width))
		b.WriteString(m.renderHelpBar())
	}
	return b.String()
}

func (m *Model) renderHeader() string {
	title := styles.TitleStyle.Render(" ABCFe Wallet Console ")

	var status string
	switch {
	case !m.online:
		status = styles.ErrorStyle.Render("offline " + m.lastErr)
	case m.status == nil:
		status = styles.MutedStyle.Render("connecting")
	case !m.status.VaultExists:
		status = styles.WarningStyle.Render("no vault")
	default:
		lock := "locked"
		if m.status.IsUnlocked {
			lock = "unlocked"
		}
		status = styles.LockStyle(m.status.IsUnlocked).Render(lock) +
			styles.MutedStyle.Render(fmt.Sprintf(" | chain %d | accounts %d | pending %d",
				m.status.ChainID, m.status.AccountCount, m.status.PendingRequests))
	}

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + status
}

func (m *Model) renderHelpBar() string {
	keys := []struct{ key, desc string }{
		{"↑↓", "select"},
		{"enter", "use account"},
		{"i", "import"},
		{"s", "sign requests"},
		{"r", "refresh"},
		{"q", "quit"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts, styles.HelpKeyStyle.Render(k.key)+styles.HelpDescStyle.Render(" "+k.desc))
	}
	return styles.HelpBarStyle.Render(strings.Join(parts, "  │  "))
}
