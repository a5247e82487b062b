package keyring

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
)

const defaultHDPath = "m/44'/60'/0'/0"

// HDKeyring derives accounts m/44'/60'/0'/0/i from a BIP-39 mnemonic.
type HDKeyring struct {
	keySigner
	mu       sync.RWMutex
	mnemonic string
	root     *hdkeychain.ExtendedKey
	keys     []*ecdsa.PrivateKey
}

type hdState struct {
	Mnemonic         string `json:"mnemonic"`
	NumberOfAccounts int    `json:"numberOfAccounts"`
	HDPath           string `json:"hdPath"`
}

func NewHDKeyring(_ Env, opts Options) (Keyring, error) {
	k := &HDKeyring{}
	k.keySigner = keySigner{lookup: k.key}
	if opts.Mnemonic != "" {
		if err := k.restore(opts.Mnemonic, opts.NumberOfAccounts); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *HDKeyring) Type() Kind { return KindHD }

func (k *HDKeyring) restore(mnemonic string, n int) error {
	root, err := crypto.DeriveMasterKey(mnemonic)
	if err != nil {
		return err
	}
	chain, err := crypto.DerivePath(root, crypto.DefaultHDPath)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.mnemonic = mnemonic
	k.root = chain
	k.keys = nil
	k.mu.Unlock()
	if n > 0 {
		_, err = k.AddAccounts(n)
	}
	return err
}

// GenerateRandomMnemonic replaces the keyring with a fresh mnemonic and no accounts.
func (k *HDKeyring) GenerateRandomMnemonic() error {
	mnemonic, err := crypto.NewMnemonic()
	if err != nil {
		return err
	}
	return k.restore(mnemonic, 0)
}

func (k *HDKeyring) Mnemonic() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.mnemonic
}

// AddAccounts derives the next n accounts.
func (k *HDKeyring) AddAccounts(n int) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.root == nil {
		return nil, errors.New("hd keyring has no mnemonic")
	}
	added := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.DeriveAccountKey(k.root, []uint32{uint32(len(k.keys))})
		if err != nil {
			return nil, err
		}
		k.keys = append(k.keys, key)
		added = append(added, crypto.PublicKeyToAddress(&key.PublicKey))
	}
	return added, nil
}

func (k *HDKeyring) Serialize() (json.RawMessage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(hdState{Mnemonic: k.mnemonic, NumberOfAccounts: len(k.keys), HDPath: defaultHDPath})
}

func (k *HDKeyring) Deserialize(data json.RawMessage) error {
	var s hdState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.HDPath != "" && s.HDPath != defaultHDPath {
		return errors.New("unsupported hd path " + s.HDPath)
	}
	return k.restore(s.Mnemonic, s.NumberOfAccounts)
}

func (k *HDKeyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, len(k.keys))
	for i, key := range k.keys {
		out[i] = crypto.PublicKeyToAddress(&key.PublicKey)
	}
	return out
}

func (k *HDKeyring) key(addr common.Address) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, key := range k.keys {
		if crypto.PublicKeyToAddress(&key.PublicKey) == addr {
			return key, nil
		}
	}
	return nil, ErrAccountNotFound
}
