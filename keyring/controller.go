package keyring

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/abcfe/abcfe-wallet/ur/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// KeyringInfo is the public view of one keyring.
type KeyringInfo struct {
	Type     Kind     `json:"type"`
	Accounts []string `json:"accounts"`
}

// Update is emitted after every change of the keyring set or lock state.
type Update struct {
	IsUnlocked      bool          `json:"isUnlocked"`
	Keyrings        []KeyringInfo `json:"keyrings"`
	SelectedAddress string        `json:"selectedAddress"`
}

// Controller owns the keyrings, persists them in the vault and routes signing
// to the keyring holding the account.
type Controller struct {
	mu       sync.RWMutex
	vault    *storage.Vault
	prefs    *storage.Preferences
	env      Env
	registry map[Kind]Factory

	keyrings []Keyring
	password []byte
	unlocked bool
	selected string

	feed event.Feed
}

func NewController(vault *storage.Vault, prefs *storage.Preferences, env Env) *Controller {
	if env.ManualMode == "" {
		env.ManualMode = SignatureTail
	}
	if env.MaxFragmentLen == 0 {
		env.MaxFragmentLen = ur.DefaultMaxFragmentLen
	}
	return &Controller{
		vault: vault,
		prefs: prefs,
		env:   env,
		registry: map[Kind]Factory{
			KindSimple:     NewSimpleKeyring,
			KindHD:         NewHDKeyring,
			KindManual:     NewManualKeyring,
			KindQRHardware: NewQRHardwareKeyring,
		},
	}
}

// ResolveKind substitutes the manual signer when a Simple Key Pair import carries an
// address instead of a private key.
func ResolveKind(kind Kind, opts Options) Kind {
	if kind == KindSimple && len(opts.Params) > 0 && crypto.IsValidAddress(opts.Params[0]) {
		return KindManual
	}
	return kind
}

func (c *Controller) factory(kind Kind) (Factory, error) {
	f, ok := c.registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyringType, kind)
	}
	return f, nil
}

// VaultExists reports whether a vault was ever created.
func (c *Controller) VaultExists() (bool, error) {
	return c.vault.Exists()
}

func (c *Controller) IsUnlocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unlocked
}

// CreateNewVault starts an empty, unlocked vault under password.
func (c *Controller) CreateNewVault(_ context.Context, password string) error {
	exists, err := c.vault.Exists()
	if err != nil {
		return err
	}
	if exists {
		return ErrVaultExists
	}
	if password == "" {
		return storage.ErrEmptyPassword
	}

	c.mu.Lock()
	c.keyrings = nil
	c.password = []byte(password)
	c.unlocked = true
	c.selected = ""
	err = c.persistAllKeyrings()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	logger.Info("new vault created")
	c.fullUpdate()
	return nil
}

// Unlock decrypts the vault and rebuilds every keyring from its type tag.
func (c *Controller) Unlock(_ context.Context, password string) error {
	plain, err := c.vault.Load([]byte(password))
	if err != nil {
		return err
	}
	var entries []SerializedKeyring
	if err := json.Unmarshal(plain, &entries); err != nil {
		return fmt.Errorf("failed to parse vault: %w", err)
	}

	keyrings := make([]Keyring, 0, len(entries))
	for _, e := range entries {
		f, err := c.factory(e.Type)
		if err != nil {
			return err
		}
		kr, err := f(c.env, Options{})
		if err != nil {
			return err
		}
		if err := kr.Deserialize(e.Data); err != nil {
			return fmt.Errorf("failed to restore %s keyring: %w", e.Type, err)
		}
		keyrings = append(keyrings, kr)
	}

	selected, err := c.prefs.SelectedAddress()
	if err != nil {
		logger.Warn("failed to read selected address: ", err)
	}

	c.mu.Lock()
	c.keyrings = keyrings
	c.password = []byte(password)
	c.unlocked = true
	c.selected = selected
	c.mu.Unlock()

	logger.Info("vault unlocked, keyrings=", len(keyrings))
	c.fullUpdate()
	return nil
}

// Lock forgets the password and every keyring in memory.
func (c *Controller) Lock() {
	c.mu.Lock()
	clear(c.password)
	c.password = nil
	c.keyrings = nil
	c.unlocked = false
	c.mu.Unlock()
	logger.Info("vault locked")
	c.fullUpdate()
}

// ClearKeyrings drops every keyring and persists the empty set.
func (c *Controller) ClearKeyrings() error {
	c.mu.Lock()
	if !c.unlocked {
		c.mu.Unlock()
		return ErrVaultLocked
	}
	c.keyrings = nil
	c.selected = ""
	err := c.persistAllKeyrings()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.prefs.SetSelectedAddress(""); err != nil {
		logger.Warn("failed to clear selected address: ", err)
	}
	c.fullUpdate()
	return nil
}

// AddNewKeyring resolves kind, builds the keyring and persists it.
func (c *Controller) AddNewKeyring(_ context.Context, kind Kind, opts Options) (Keyring, error) {
	if !c.IsUnlocked() {
		return nil, ErrVaultLocked
	}
	resolved := ResolveKind(kind, opts)
	f, err := c.factory(resolved)
	if err != nil {
		return nil, err
	}
	kr, err := f(c.env, opts)
	if err != nil {
		return nil, err
	}
	if hd, ok := kr.(*HDKeyring); ok && opts.Mnemonic == "" && kind == KindHD {
		if err := hd.GenerateRandomMnemonic(); err != nil {
			return nil, err
		}
		if _, err := hd.AddAccounts(1); err != nil {
			return nil, err
		}
	}

	return c.insertKeyring(kr, resolved, false)
}

// insertKeyring appends kr and persists the vault. With singleton set, an
// existing keyring of the same type is returned instead.
func (c *Controller) insertKeyring(kr Keyring, resolved Kind, singleton bool) (Keyring, error) {
	c.mu.Lock()
	if singleton {
		for _, existing := range c.keyrings {
			if existing.Type() == kr.Type() {
				c.mu.Unlock()
				return existing, nil
			}
		}
	}
	if err := c.checkForDuplicate(kr.Accounts()); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.keyrings = append(c.keyrings, kr)
	if err := c.persistAllKeyrings(); err != nil {
		c.keyrings = c.keyrings[:len(c.keyrings)-1]
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	logger.Info("keyring added: ", resolved, " accounts=", len(kr.Accounts()))
	c.fullUpdate()
	return kr, nil
}

// ImportNewAccount imports one account by strategy and selects it. "Address" hands the
// address to the Simple Key Pair path, where it becomes a manual signer.
func (c *Controller) ImportNewAccount(ctx context.Context, strategy string, params []string) (common.Address, error) {
	if len(params) == 0 || strings.TrimSpace(params[0]) == "" {
		return common.Address{}, ErrEmptyInput
	}
	value := strings.TrimSpace(params[0])
	switch strategy {
	case prt.StrategyAddress:
	case prt.StrategyPrivateKey:
		if _, err := crypto.PrivateKeyFromHex(value); err != nil {
			return common.Address{}, err
		}
	default:
		return common.Address{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	kr, err := c.AddNewKeyring(ctx, KindSimple, Options{Params: []string{value}})
	if err != nil {
		return common.Address{}, err
	}
	accounts := kr.Accounts()
	if len(accounts) == 0 {
		return common.Address{}, ErrEmptyInput
	}
	if err := c.SetSelectedAddress(accounts[0]); err != nil {
		return common.Address{}, err
	}
	return accounts[0], nil
}

// checkForDuplicate fails if any of accounts is already held. Caller holds c.mu.
func (c *Controller) checkForDuplicate(accounts []common.Address) error {
	for _, kr := range c.keyrings {
		existing := kr.Accounts()
		for _, a := range accounts {
			if hasAccount(existing, a) {
				return fmt.Errorf("%w: %s", ErrDuplicateAccount, crypto.AddressTo0xPrefixString(a))
			}
		}
	}
	return nil
}

// persistAllKeyrings writes every keyring to the vault. Caller holds c.mu.
func (c *Controller) persistAllKeyrings() error {
	if !c.unlocked || len(c.password) == 0 {
		return ErrVaultLocked
	}
	entries := make([]SerializedKeyring, 0, len(c.keyrings))
	for _, kr := range c.keyrings {
		data, err := kr.Serialize()
		if err != nil {
			return err
		}
		entries = append(entries, SerializedKeyring{Type: kr.Type(), Data: data})
	}
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	defer clear(plain)
	return c.vault.Save(c.password, plain)
}

func (c *Controller) snapshot() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u := Update{IsUnlocked: c.unlocked, SelectedAddress: c.selected, Keyrings: []KeyringInfo{}}
	for _, kr := range c.keyrings {
		info := KeyringInfo{Type: kr.Type(), Accounts: []string{}}
		for _, a := range kr.Accounts() {
			info.Accounts = append(info.Accounts, crypto.AddressTo0xPrefixString(a))
		}
		u.Keyrings = append(u.Keyrings, info)
	}
	return u
}

// State is the current Update.
func (c *Controller) State() Update {
	return c.snapshot()
}

func (c *Controller) fullUpdate() {
	c.feed.Send(c.snapshot())
}

// SubscribeUpdates delivers an Update after every change. ch must be drained.
func (c *Controller) SubscribeUpdates(ch chan<- Update) event.Subscription {
	return c.feed.Subscribe(ch)
}

func (c *Controller) Keyrings() []Keyring {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Keyring(nil), c.keyrings...)
}

// Accounts lists every account of every keyring, in keyring order.
func (c *Controller) Accounts() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []common.Address
	for _, kr := range c.keyrings {
		out = append(out, kr.Accounts()...)
	}
	return out
}

func (c *Controller) SelectedAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

func (c *Controller) SetSelectedAddress(addr common.Address) error {
	if _, err := c.keyringForAccount(addr); err != nil {
		return err
	}
	s := crypto.AddressTo0xPrefixString(addr)
	c.mu.Lock()
	c.selected = s
	c.mu.Unlock()
	if err := c.prefs.SetSelectedAddress(s); err != nil {
		return err
	}
	c.fullUpdate()
	return nil
}

// RemoveAccount drops addr from its keyring and the keyring itself once empty.
func (c *Controller) RemoveAccount(addr common.Address) error {
	c.mu.Lock()
	idx := -1
	for i, kr := range c.keyrings {
		if hasAccount(kr.Accounts(), addr) {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrAccountNotFound
	}
	kr := c.keyrings[idx]
	remover, ok := kr.(accountRemover)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s cannot remove accounts", ErrUnsupportedOperation, kr.Type())
	}
	if err := remover.RemoveAccount(addr); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(kr.Accounts()) == 0 && kr.Type() != KindQRHardware {
		c.keyrings = append(c.keyrings[:idx], c.keyrings[idx+1:]...)
	}
	if c.selected == crypto.AddressTo0xPrefixString(addr) {
		c.selected = ""
	}
	err := c.persistAllKeyrings()
	selected := c.selected
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if selected == "" {
		if err := c.prefs.SetSelectedAddress(""); err != nil {
			logger.Warn("failed to clear selected address: ", err)
		}
	}
	c.fullUpdate()
	return nil
}

func (c *Controller) keyringForAccount(addr common.Address) (Keyring, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.unlocked {
		return nil, ErrVaultLocked
	}
	for _, kr := range c.keyrings {
		if hasAccount(kr.Accounts(), addr) {
			return kr, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, crypto.AddressTo0xPrefixString(addr))
}

func (c *Controller) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return nil, err
	}
	return kr.SignTransaction(ctx, from, tx, chainID)
}

func (c *Controller) SignMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return nil, err
	}
	return kr.SignMessage(ctx, from, data)
}

func (c *Controller) SignPersonalMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return nil, err
	}
	return kr.SignPersonalMessage(ctx, from, data)
}

func (c *Controller) SignTypedData(ctx context.Context, from common.Address, typed apitypes.TypedData) ([]byte, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return nil, err
	}
	return kr.SignTypedData(ctx, from, typed)
}

func (c *Controller) DecryptMessage(ctx context.Context, from common.Address, msg EncryptedData) (string, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return "", err
	}
	return kr.DecryptMessage(ctx, from, msg)
}

func (c *Controller) GetEncryptionPublicKey(ctx context.Context, from common.Address) (string, error) {
	kr, err := c.keyringForAccount(from)
	if err != nil {
		return "", err
	}
	return kr.GetEncryptionPublicKey(ctx, from)
}

// getOrAddQRKeyring returns the single QR hardware keyring, creating it when missing.
func (c *Controller) getOrAddQRKeyring(_ context.Context) (*QRHardwareKeyring, error) {
	c.mu.RLock()
	unlocked := c.unlocked
	for _, kr := range c.keyrings {
		if qr, ok := kr.(*QRHardwareKeyring); ok {
			c.mu.RUnlock()
			return qr, nil
		}
	}
	c.mu.RUnlock()
	if !unlocked {
		return nil, ErrVaultLocked
	}
	f, err := c.factory(KindQRHardware)
	if err != nil {
		return nil, err
	}
	created, err := f(c.env, Options{})
	if err != nil {
		return nil, err
	}
	// another caller may have added one since the read lock was released
	kr, err := c.insertKeyring(created, KindQRHardware, true)
	if err != nil {
		return nil, err
	}
	qr, ok := kr.(*QRHardwareKeyring)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, kr.Type())
	}
	return qr, nil
}

func decodeCBORHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid cbor hex: %w", err)
	}
	return b, nil
}

func (c *Controller) persistAndUpdate() error {
	c.mu.Lock()
	err := c.persistAllKeyrings()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.fullUpdate()
	return nil
}

// SubmitQRHardwareCryptoHDKey imports the CBOR (hex) of a crypto-hdkey UR.
func (c *Controller) SubmitQRHardwareCryptoHDKey(ctx context.Context, cborHex string) error {
	data, err := decodeCBORHex(cborHex)
	if err != nil {
		return err
	}
	qr, err := c.getOrAddQRKeyring(ctx)
	if err != nil {
		return err
	}
	if err := qr.SubmitCryptoHDKey(data); err != nil {
		return err
	}
	return c.persistAndUpdate()
}

// SubmitQRHardwareCryptoAccount imports the CBOR (hex) of a crypto-account UR.
func (c *Controller) SubmitQRHardwareCryptoAccount(ctx context.Context, cborHex string) error {
	data, err := decodeCBORHex(cborHex)
	if err != nil {
		return err
	}
	qr, err := c.getOrAddQRKeyring(ctx)
	if err != nil {
		return err
	}
	if err := qr.SubmitCryptoAccount(data); err != nil {
		return err
	}
	return c.persistAndUpdate()
}

// AddQRHardwareAccounts unlocks n more accounts of the submitted device.
func (c *Controller) AddQRHardwareAccounts(ctx context.Context, n int) ([]common.Address, error) {
	if n <= 0 {
		n = 1
	}
	qr, err := c.getOrAddQRKeyring(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	added, err := qr.AddAccounts(n)
	if err == nil {
		for _, kr := range c.keyrings {
			if kr == Keyring(qr) {
				continue
			}
			existing := kr.Accounts()
			for _, a := range added {
				if hasAccount(existing, a) {
					err = fmt.Errorf("%w: %s", ErrDuplicateAccount, crypto.AddressTo0xPrefixString(a))
				}
			}
		}
		if err != nil {
			for _, a := range added {
				_ = qr.RemoveAccount(a)
			}
		}
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	err = c.persistAllKeyrings()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.fullUpdate()
	return added, nil
}

// SubmitQRSignature answers the pending QR sign request named by an eth-signature UR.
func (c *Controller) SubmitQRSignature(u *ur.UR) error {
	sig, err := registry.EthSignatureFromUR(u)
	if err != nil {
		return err
	}
	if c.env.Signer == nil {
		return ErrMismatchedSignID
	}
	id := sig.RequestID.String()
	req, ok := c.env.Signer.Get(id)
	if !ok || req.Kind != signer.KindQR {
		return fmt.Errorf("%w: %s", ErrMismatchedSignID, id)
	}
	err = c.env.Signer.Resolve(id, hex.EncodeToString(sig.Signature))
	if errors.Is(err, signer.ErrRequestNotFound) {
		return fmt.Errorf("%w: %s", ErrMismatchedSignID, id)
	}
	return err
}

// ExpectSignature returns a callback that accepts only the eth-signature answering requestID.
func (c *Controller) ExpectSignature(requestID string) func(*ur.UR) error {
	return func(u *ur.UR) error {
		sig, err := registry.EthSignatureFromUR(u)
		if err != nil {
			return err
		}
		if requestID != "" && sig.RequestID.String() != requestID {
			return fmt.Errorf("%w: got %s, want %s", ErrMismatchedSignID, sig.RequestID, requestID)
		}
		return c.SubmitQRSignature(u)
	}
}
