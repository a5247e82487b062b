package keyring

import (
	"crypto/ecdsa"
	"encoding/json"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/ethereum/go-ethereum/common"
)

// SimpleKeyring holds imported private keys, one account each.
type SimpleKeyring struct {
	keySigner
	mu   sync.RWMutex
	keys []*ecdsa.PrivateKey
}

func NewSimpleKeyring(_ Env, opts Options) (Keyring, error) {
	k := &SimpleKeyring{}
	k.keySigner = keySigner{lookup: k.key}
	for _, p := range opts.Params {
		key, err := crypto.PrivateKeyFromHex(p)
		if err != nil {
			return nil, err
		}
		k.keys = append(k.keys, key)
	}
	return k, nil
}

func (k *SimpleKeyring) Type() Kind { return KindSimple }

// Serialize stores the keys as hex without prefix.
func (k *SimpleKeyring) Serialize() (json.RawMessage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, len(k.keys))
	for i, key := range k.keys {
		out[i] = strings.TrimPrefix(crypto.PrivateKeyToHex(key), "0x")
	}
	return json.Marshal(out)
}

func (k *SimpleKeyring) Deserialize(data json.RawMessage) error {
	var hexKeys []string
	if err := json.Unmarshal(data, &hexKeys); err != nil {
		return err
	}
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for _, h := range hexKeys {
		key, err := crypto.PrivateKeyFromHex(h)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
	return nil
}

func (k *SimpleKeyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, len(k.keys))
	for i, key := range k.keys {
		out[i] = crypto.PublicKeyToAddress(&key.PublicKey)
	}
	return out
}

func (k *SimpleKeyring) RemoveAccount(addr common.Address) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, key := range k.keys {
		if crypto.PublicKeyToAddress(&key.PublicKey) == addr {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			return nil
		}
	}
	return ErrAccountNotFound
}

func (k *SimpleKeyring) key(addr common.Address) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, key := range k.keys {
		if crypto.PublicKeyToAddress(&key.PublicKey) == addr {
			return key, nil
		}
	}
	return nil, ErrAccountNotFound
}
