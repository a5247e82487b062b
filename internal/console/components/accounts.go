package components

import (
	"fmt"
	"strings"

	"github.com/abcfe/abcfe-wallet/internal/console/api"
	"github.com/abcfe/abcfe-wallet/internal/console/styles"
)

// AccountsView lists the wallet accounts with a cursor
type AccountsView struct {
	accounts []string
	selected string
	cursor   int
}

func NewAccountsView() *AccountsView {
	return &AccountsView{}
}

// Set replaces the list, keeping the cursor in range
func (v *AccountsView) Set(a *api.Accounts) {
	if a == nil {
		v.accounts, v.selected = nil, ""
		v.cursor = 0
		return
	}
	v.accounts = a.Accounts
	v.selected = a.SelectedAddress
	if v.cursor >= len(v.accounts) {
		v.cursor = len(v.accounts) - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
}

func (v *AccountsView) Up() {
	if v.cursor > 0 {
		v.cursor--
	}
}

func (v *AccountsView) Down() {
	if v.cursor < len(v.accounts)-1 {
		v.cursor++
	}
}

// Current returns the address under the cursor
func (v *AccountsView) Current() string {
	if v.cursor < len(v.accounts) {
		return v.accounts[v.cursor]
	}
	return ""
}

func (v *AccountsView) Render() string {
	var b strings.Builder
	b.WriteString(styles.TableHeaderStyle.Render(fmt.Sprintf("%-4s %-44s %-8s", "#", "Address", "Selected")))
	b.WriteString("\n")
	if len(v.accounts) == 0 {
		b.WriteString(styles.MutedStyle.Render("  no accounts, press i to import one"))
		b.WriteString("\n")
		return b.String()
	}
	for i, addr := range v.accounts {
		mark := ""
		if strings.EqualFold(addr, v.selected) {
			mark = "●"
		}
		row := fmt.Sprintf("%-4d %-44s %-8s", i+1, addr, mark)
		switch {
		case i == v.cursor:
			b.WriteString(styles.TableSelectedRowStyle.Render(row))
		case mark != "":
			b.WriteString(styles.TableRowStyle.Inherit(styles.SelectedStyle).Render(row))
		default:
			b.WriteString(styles.TableRowStyle.Render(row))
		}
		b.WriteString("\n")
	}
	return b.String()
}
