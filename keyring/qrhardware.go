package keyring

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/abcfe/abcfe-wallet/ur/registry"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
)

const (
	qrModeHD      = "hd"
	qrModeAccount = "account"

	defaultChildrenPath = "0/*"
	defaultDeviceName   = "QR Hardware"
)

// QRHardwareKeyring tracks accounts of an air-gapped device. Keys come in as
// crypto-hdkey or crypto-account URs; signatures go out as eth-sign-request and
// come back as eth-signature.
type QRHardwareKeyring struct {
	mu    sync.RWMutex
	env   Env
	state qrState
	xpub  *hdkeychain.ExtendedKey
}

type qrAccountPath struct {
	Address string `json:"address"`
	Path    string `json:"path"`
}

type qrState struct {
	Initialized       bool   `json:"initialized"`
	KeyringMode       string `json:"keyringMode,omitempty"`
	XPub              string `json:"xpub,omitempty"`
	HDPath            string `json:"hdPath,omitempty"`
	ChildrenPath      string `json:"childrenPath,omitempty"`
	SourceFingerprint uint32 `json:"xfp"`
	Name              string `json:"name"`
	// Accounts are the unlocked addresses, in unlock order.
	Accounts []string `json:"accounts"`
	// Indexes maps an unlocked hd mode address to its child index.
	Indexes map[string]uint32 `json:"indexes,omitempty"`
	// Available lists every account a crypto-account export offered.
	Available []qrAccountPath `json:"available,omitempty"`
}

func NewQRHardwareKeyring(env Env, _ Options) (Keyring, error) {
	return &QRHardwareKeyring{env: env, state: qrState{Indexes: map[string]uint32{}}}, nil
}

func (k *QRHardwareKeyring) Type() Kind { return KindQRHardware }

func (k *QRHardwareKeyring) Serialize() (json.RawMessage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return json.Marshal(k.state)
}

func (k *QRHardwareKeyring) Deserialize(data json.RawMessage) error {
	var s qrState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Indexes == nil {
		s.Indexes = map[string]uint32{}
	}
	var xpub *hdkeychain.ExtendedKey
	if s.XPub != "" {
		var err error
		if xpub, err = hdkeychain.NewKeyFromString(s.XPub); err != nil {
			return err
		}
	}
	k.mu.Lock()
	k.state, k.xpub = s, xpub
	k.mu.Unlock()
	return nil
}

// Name is the device name reported in the last key export.
func (k *QRHardwareKeyring) Name() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Name
}

// SubmitCryptoHDKey takes an account level extended public key from the device.
func (k *QRHardwareKeyring) SubmitCryptoHDKey(data []byte) error {
	key, err := registry.DecodeCryptoHDKey(data)
	if err != nil {
		return err
	}
	return k.setHDKey(key, 0)
}

func (k *QRHardwareKeyring) setHDKey(key *registry.CryptoHDKey, masterFingerprint uint32) error {
	if key.Origin == nil || len(key.ChainCode) == 0 {
		return fmt.Errorf("%w: origin and chain code", registry.ErrMissingField)
	}
	xpub, err := crypto.NewExtendedPublicKey(key.KeyData, key.ChainCode, key.ParentFingerprint, uint8(len(key.Origin.Components)))
	if err != nil {
		return err
	}
	children := defaultChildrenPath
	if key.Children != nil && len(key.Children.Components) > 0 {
		children = key.Children.Path()
	}
	if _, err := childPath(children, 0); err != nil {
		return err
	}
	fp := key.Origin.SourceFingerprint
	if fp == 0 {
		fp = masterFingerprint
	}
	name := key.Name
	if name == "" {
		name = defaultDeviceName
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	encoded := xpub.String()
	if k.state.XPub != encoded {
		// another device or account: start over
		k.state.Accounts = nil
		k.state.Indexes = map[string]uint32{}
	}
	k.state.Initialized = true
	k.state.KeyringMode = qrModeHD
	k.state.XPub = encoded
	k.state.HDPath = key.Origin.String()
	k.state.ChildrenPath = children
	k.state.SourceFingerprint = fp
	k.state.Name = name
	k.state.Available = nil
	k.xpub = xpub
	logger.Info("qr hardware key submitted: ", name, " path=", k.state.HDPath)
	return nil
}

// SubmitCryptoAccount takes a crypto-account export. A single account level key
// behaves like crypto-hdkey, otherwise every key is an individual account.
func (k *QRHardwareKeyring) SubmitCryptoAccount(data []byte) error {
	acc, err := registry.DecodeCryptoAccount(data)
	if err != nil {
		return err
	}
	if len(acc.Keys) == 1 && len(acc.Keys[0].ChainCode) > 0 && acc.Keys[0].Origin != nil &&
		len(acc.Keys[0].Origin.Components) <= 3 {
		return k.setHDKey(acc.Keys[0], acc.MasterFingerprint)
	}

	available := make([]qrAccountPath, 0, len(acc.Keys))
	name := defaultDeviceName
	for _, key := range acc.Keys {
		if key.Origin == nil {
			return fmt.Errorf("%w: origin", registry.ErrMissingField)
		}
		addr, err := crypto.CompressedKeyToAddress(key.KeyData)
		if err != nil {
			return err
		}
		if key.Name != "" {
			name = key.Name
		}
		available = append(available, qrAccountPath{Address: crypto.AddressTo0xPrefixString(addr), Path: key.Origin.String()})
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state.KeyringMode != qrModeAccount {
		k.state.Accounts = nil
	}
	k.state = qrState{
		Initialized:       true,
		KeyringMode:       qrModeAccount,
		SourceFingerprint: acc.MasterFingerprint,
		Name:              name,
		Accounts:          k.state.Accounts,
		Indexes:           map[string]uint32{},
		Available:         available,
	}
	k.xpub = nil
	logger.Info("qr hardware account submitted: ", name, " keys=", len(available))
	return nil
}

// AddAccounts unlocks the next n accounts of the device.
func (k *QRHardwareKeyring) AddAccounts(n int) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.state.Initialized {
		return nil, ErrNoHardwareKey
	}

	var added []common.Address
	switch k.state.KeyringMode {
	case qrModeAccount:
		for _, ap := range k.state.Available {
			if len(added) == n {
				break
			}
			if containsString(k.state.Accounts, ap.Address) {
				continue
			}
			k.state.Accounts = append(k.state.Accounts, ap.Address)
			added = append(added, common.HexToAddress(ap.Address))
		}
	default:
		next := uint32(0)
		for _, i := range k.state.Indexes {
			if i+1 > next {
				next = i + 1
			}
		}
		for len(added) < n {
			path, err := childPath(k.state.ChildrenPath, next)
			if err != nil {
				return nil, err
			}
			addr, err := crypto.DeriveChildAddress(k.xpub, path)
			if err != nil {
				return nil, err
			}
			s := crypto.AddressTo0xPrefixString(addr)
			k.state.Accounts = append(k.state.Accounts, s)
			k.state.Indexes[s] = next
			added = append(added, addr)
			next++
		}
	}
	return added, nil
}

func (k *QRHardwareKeyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, len(k.state.Accounts))
	for i, a := range k.state.Accounts {
		out[i] = common.HexToAddress(a)
	}
	return out
}

func (k *QRHardwareKeyring) RemoveAccount(addr common.Address) error {
	s := crypto.AddressTo0xPrefixString(addr)
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, a := range k.state.Accounts {
		if a == s {
			k.state.Accounts = append(k.state.Accounts[:i], k.state.Accounts[i+1:]...)
			delete(k.state.Indexes, s)
			return nil
		}
	}
	return ErrAccountNotFound
}

// pathFor is the full derivation path of an unlocked account.
func (k *QRHardwareKeyring) pathFor(addr common.Address) (*registry.KeyPath, error) {
	s := crypto.AddressTo0xPrefixString(addr)
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !containsString(k.state.Accounts, s) {
		return nil, ErrAccountNotFound
	}

	var full string
	switch k.state.KeyringMode {
	case qrModeAccount:
		for _, ap := range k.state.Available {
			if ap.Address == s {
				full = ap.Path
			}
		}
	default:
		full = k.state.HDPath + "/" + strings.Replace(k.state.ChildrenPath, "*", fmt.Sprint(k.state.Indexes[s]), 1)
	}
	kp, err := registry.ParseKeyPath(full)
	if err != nil {
		return nil, err
	}
	kp.SourceFingerprint = k.state.SourceFingerprint
	return kp, nil
}

// requestSignature shows an eth-sign-request and waits for the scanned eth-signature.
func (k *QRHardwareKeyring) requestSignature(ctx context.Context, from common.Address, signData []byte,
	dataType registry.DataType, chainID *big.Int, method, payload string) ([]byte, error) {
	if k.env.Signer == nil {
		return nil, fmt.Errorf("%w: no signer queue", ErrUnsupportedOperation)
	}
	path, err := k.pathFor(from)
	if err != nil {
		return nil, err
	}

	req := &registry.EthSignRequest{
		RequestID: uuid.New(),
		SignData:  signData,
		DataType:  dataType,
		Path:      path,
		Address:   from.Bytes(),
		Origin:    k.env.Origin,
	}
	if chainID != nil {
		req.ChainID = chainID.Int64()
	}
	u, err := req.ToUR()
	if err != nil {
		return nil, err
	}
	parts, err := ur.EncodeAll(u, k.env.MaxFragmentLen)
	if err != nil {
		return nil, err
	}

	response, err := k.env.Signer.Submit(ctx, signer.Request{
		ID:      req.RequestID.String(),
		Kind:    signer.KindQR,
		From:    crypto.AddressTo0xPrefixString(from),
		ChainID: utils.BigToHex(chainID),
		Method:  method,
		Payload: payload,
		Parts:   parts,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(response) == "" {
		return nil, ErrEmptySignature
	}
	sig, err := utils.HexToBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
	}
	return crypto.NormalizeSignature(sig, chainID)
}

func (k *QRHardwareKeyring) SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signData, dataType, err := unsignedPayload(tx, chainID)
	if err != nil {
		return nil, err
	}
	sig, err := k.requestSignature(ctx, from, signData, dataType, chainID,
		"eth_signTransaction", signer.NewTxPayload(from, tx).String())
	if err != nil {
		return nil, err
	}

	txSigner := types.LatestSignerForChainID(chainID)
	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
	}
	sender, err := types.Sender(txSigner, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
	}
	if sender != from {
		return nil, ErrSignerMismatch
	}
	return signed, nil
}

func (k *QRHardwareKeyring) signPersonal(ctx context.Context, from common.Address, data []byte) ([]byte, error) {
	sig, err := k.requestSignature(ctx, from, data, registry.DataTypePersonalMessage, nil,
		"personal_sign", utils.BytesToHex(data))
	if err != nil {
		return nil, err
	}
	recovered, err := crypto.RecoverAddress(accounts.TextHash(data), sig)
	if err != nil {
		return nil, err
	}
	if recovered != from {
		return nil, ErrSignerMismatch
	}
	sig[64] += 27
	return sig, nil
}

func (k *QRHardwareKeyring) NewGethSignMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error) {
	return k.signPersonal(ctx, from, data)
}

func (k *QRHardwareKeyring) SignPersonalMessage(ctx context.Context, from common.Address, data []byte) ([]byte, error) {
	return k.signPersonal(ctx, from, data)
}

func (k *QRHardwareKeyring) SignTypedData(ctx context.Context, from common.Address, typed apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	sig, err := k.requestSignature(ctx, from, data, registry.DataTypeTypedData, nil, "eth_signTypedData_v4", string(data))
	if err != nil {
		return nil, err
	}
	recovered, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		return nil, err
	}
	if recovered != from {
		return nil, ErrSignerMismatch
	}
	sig[64] += 27
	return sig, nil
}

func (k *QRHardwareKeyring) SignMessage(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, ErrUnsupportedOperation
}

func (k *QRHardwareKeyring) DecryptMessage(context.Context, common.Address, EncryptedData) (string, error) {
	return "", ErrUnsupportedOperation
}

func (k *QRHardwareKeyring) GetEncryptionPublicKey(context.Context, common.Address) (string, error) {
	return "", ErrUnsupportedOperation
}

// unsignedPayload is the preimage of the transaction signing hash.
func unsignedPayload(tx *types.Transaction, chainID *big.Int) ([]byte, registry.DataType, error) {
	switch tx.Type() {
	case types.LegacyTxType:
		b, err := rlp.EncodeToBytes([]interface{}{
			tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), chainID, uint(0), uint(0),
		})
		return b, registry.DataTypeTransaction, err
	case types.AccessListTxType:
		b, err := rlp.EncodeToBytes([]interface{}{
			chainID, tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
		return append([]byte{types.AccessListTxType}, b...), registry.DataTypeTypedTransaction, err
	case types.DynamicFeeTxType:
		b, err := rlp.EncodeToBytes([]interface{}{
			chainID, tx.Nonce(), tx.GasTipCap(), tx.GasFeeCap(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
		return append([]byte{types.DynamicFeeTxType}, b...), registry.DataTypeTypedTransaction, err
	}
	return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type())
}

// childPath turns "0/*" and index 5 into [0, 5]. Only unhardened steps are derivable from an xpub.
func childPath(children string, index uint32) ([]uint32, error) {
	kp, err := registry.ParseKeyPath(children)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(kp.Components))
	for _, c := range kp.Components {
		if c.Hardened {
			return nil, fmt.Errorf("%w: hardened child %s", registry.ErrInvalidPath, children)
		}
		if c.Wildcard {
			out = append(out, index)
		} else {
			out = append(out, c.Index)
		}
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
