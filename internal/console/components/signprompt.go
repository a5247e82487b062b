package components

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/internal/console/api"
	"github.com/abcfe/abcfe-wallet/internal/console/styles"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mdp/qrterminal/v3"
)

// Resolver answers pending sign requests
type Resolver interface {
	ResolveSignRequest(ctx context.Context, id, signature string) error
	RejectSignRequest(ctx context.Context, id string) error
}

type resolveResultMsg struct {
	id       string
	rejected bool
	err      error
}

// ResolvedMsg reports a request the prompt answered
type ResolvedMsg struct {
	ID       string
	Rejected bool
}

// partTickMsg advances the animated QR
type partTickMsg struct{ id string }

type signKeys struct {
	Submit key.Binding
	Reject key.Binding
	Back   key.Binding
}

var signKeyMap = signKeys{
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit signature")),
	Reject: key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "reject")),
	Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
}

// SignPrompt shows the oldest pending request and takes the pasted answer.
// QR requests show their UR parts one after another.
type SignPrompt struct {
	input    textinput.Model
	resolver Resolver
	request  *api.SignRequest
	part     int
	interval time.Duration
	warning  string
}

func NewSignPrompt(resolver Resolver, interval time.Duration) *SignPrompt {
	ti := textinput.New()
	ti.Placeholder = "0x..."
	ti.Prompt = "Signature: "
	ti.Width = 66
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &SignPrompt{input: ti, resolver: resolver, interval: interval}
}

// SetRequests shows the oldest of reqs, keeping the current one while it is pending
func (p *SignPrompt) SetRequests(reqs []api.SignRequest) tea.Cmd {
	if p.request != nil {
		for _, r := range reqs {
			if r.ID == p.request.ID {
				return nil
			}
		}
	}
	if len(reqs) == 0 {
		p.request = nil
		return nil
	}
	oldest := reqs[0]
	for _, r := range reqs[1:] {
		if r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	p.request = &oldest
	p.part = 0
	p.warning = ""
	p.input.Reset()
	if len(oldest.Parts) > 1 {
		return p.tick()
	}
	return nil
}

// Request returns the request on screen
func (p *SignPrompt) Request() *api.SignRequest {
	return p.request
}

// Focus focuses the signature input
func (p *SignPrompt) Focus() tea.Cmd {
	return p.input.Focus()
}

func (p *SignPrompt) tick() tea.Cmd {
	id := p.request.ID
	return tea.Tick(p.interval, func(time.Time) tea.Msg { return partTickMsg{id: id} })
}

func (p *SignPrompt) resolve(reject bool) tea.Cmd {
	if p.request == nil {
		return nil
	}
	id, signature, resolver := p.request.ID, strings.TrimSpace(p.input.Value()), p.resolver
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		if reject {
			err = resolver.RejectSignRequest(ctx, id)
		} else {
			err = resolver.ResolveSignRequest(ctx, id, signature)
		}
		return resolveResultMsg{id: id, rejected: reject, err: err}
	}
}

func (p *SignPrompt) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case partTickMsg:
		if p.request == nil || p.request.ID != msg.id || len(p.request.Parts) < 2 {
			return nil
		}
		p.part = (p.part + 1) % len(p.request.Parts)
		return p.tick()

	case resolveResultMsg:
		if msg.err != nil {
			p.warning = msg.err.Error()
			return nil
		}
		if p.request != nil && p.request.ID == msg.id {
			p.request = nil
			p.input.Reset()
		}
		p.warning = ""
		resolved := ResolvedMsg{ID: msg.id, Rejected: msg.rejected}
		return func() tea.Msg { return resolved }

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, signKeyMap.Submit):
			return p.resolve(false)
		case key.Matches(msg, signKeyMap.Reject):
			return p.resolve(true)
		case key.Matches(msg, signKeyMap.Back):
			return navigate(PageOverview)
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return cmd
}

func (p *SignPrompt) View() string {
	var b strings.Builder
	b.WriteString(styles.HeaderStyle.Render("Signature request"))
	b.WriteString("\n")

	if p.request == nil {
		b.WriteString(styles.MutedStyle.Render("  no pending requests"))
		return b.String()
	}
	r := p.request
	b.WriteString(fmt.Sprintf("  id: %s  method: %s  chain: %s\n", r.ID, r.Method, r.ChainID))
	b.WriteString(styles.BoxStyle.Render(r.Payload))
	b.WriteString("\n")

	if len(r.Parts) > 0 {
		b.WriteString(styles.MutedStyle.Render(fmt.Sprintf("  scan with your device (part %d/%d)", p.part+1, len(r.Parts))))
		b.WriteString("\n")
		b.WriteString(RenderQR(r.Parts[p.part]))
		b.WriteString(styles.MutedStyle.Render("  then scan the signature back through a reader session"))
		b.WriteString("\n")
	} else {
		b.WriteString(styles.MutedStyle.Render("  sign the transaction offline and paste the signed result"))
		b.WriteString("\n\n")
		b.WriteString(p.input.View())
		b.WriteString("\n")
	}

	if p.warning != "" {
		b.WriteString("\n")
		b.WriteString(styles.WarningStyle.Render("! " + p.warning))
		b.WriteString("\n")
	}
	b.WriteString(styles.HelpDescStyle.Render(fmt.Sprintf("%s %s  %s %s  %s %s",
		signKeyMap.Submit.Help().Key, signKeyMap.Submit.Help().Desc,
		signKeyMap.Reject.Help().Key, signKeyMap.Reject.Help().Desc,
		signKeyMap.Back.Help().Key, signKeyMap.Back.Help().Desc)))
	return b.String()
}

// RenderQR draws text as a half block terminal QR code. URs are uppercased
// so the code uses alphanumeric mode.
func RenderQR(text string) string {
	var b strings.Builder
	qrterminal.GenerateHalfBlock(strings.ToUpper(text), qrterminal.L, &b)
	return b.String()
}
