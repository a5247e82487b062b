package storage

import (
	"errors"

	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// Preferences are plain, unencrypted settings that survive a locked vault.
type Preferences struct {
	store Store
}

func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// SelectedAddress returns "" when nothing was selected yet.
func (p *Preferences) SelectedAddress() (string, error) {
	v, err := p.store.Get([]byte(prt.KeyPrefSelected))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (p *Preferences) SetSelectedAddress(addr string) error {
	if addr == "" {
		return p.store.Delete([]byte(prt.KeyPrefSelected))
	}
	return p.store.Put([]byte(prt.KeyPrefSelected), []byte(addr))
}
