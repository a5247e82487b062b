package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// BIP-44 path constants
const (
	BIP44Purpose  = 44
	BIP44CoinType = 60 // Ethereum
	BIP44Account  = 0
	BIP44Change   = 0 // External
)

// DefaultHDPath is the parent of the BIP-44 external chain, m/44'/60'/0'/0.
var DefaultHDPath = []uint32{
	hdkeychain.HardenedKeyStart + BIP44Purpose,
	hdkeychain.HardenedKeyStart + BIP44CoinType,
	hdkeychain.HardenedKeyStart + BIP44Account,
	BIP44Change,
}

func GenerateKeyPair() (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	privateKey, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// PrivateKeyFromHex accepts 64 hex digits with or without "0x".
func PrivateKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	key, err := gethcrypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

func PrivateKeyToHex(privateKey *ecdsa.PrivateKey) string {
	return hexutil.Encode(gethcrypto.FromECDSA(privateKey))
}

// NewMnemonic returns a 12 word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// Derive master key from a BIP-39 mnemonic (empty passphrase)
func DeriveMasterKey(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// DeriveAccountKey walks path from key and returns the child private key.
func DeriveAccountKey(key *hdkeychain.ExtendedKey, path []uint32) (*ecdsa.PrivateKey, error) {
	child, err := DerivePath(key, path)
	if err != nil {
		return nil, err
	}
	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return gethcrypto.ToECDSA(priv.Serialize())
}

func DerivePath(key *hdkeychain.ExtendedKey, path []uint32) (*hdkeychain.ExtendedKey, error) {
	var err error
	for _, i := range path {
		if key, err = key.Derive(i); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// NewExtendedPublicKey builds a public extended key from a compressed key and chain code,
// as exported by a hardware wallet.
func NewExtendedPublicKey(keyData, chainCode []byte, parentFingerprint uint32, depth uint8) (*hdkeychain.ExtendedKey, error) {
	if len(keyData) != 33 || len(chainCode) != 32 {
		return nil, fmt.Errorf("%w: key %d bytes, chain code %d bytes", ErrInvalidPrivateKey, len(keyData), len(chainCode))
	}
	fp := []byte{
		byte(parentFingerprint >> 24), byte(parentFingerprint >> 16),
		byte(parentFingerprint >> 8), byte(parentFingerprint),
	}
	version := chaincfg.MainNetParams.HDPublicKeyID
	return hdkeychain.NewExtendedKey(version[:], keyData, chainCode, fp, depth, 0, false), nil
}

// DeriveChildAddress derives path from a public extended key and returns its address.
func DeriveChildAddress(key *hdkeychain.ExtendedKey, path []uint32) (common.Address, error) {
	child, err := DerivePath(key, path)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return common.Address{}, err
	}
	return CompressedKeyToAddress(pub.SerializeCompressed())
}

func CompressedKeyToAddress(compressed []byte) (common.Address, error) {
	pub, err := gethcrypto.DecompressPubkey(compressed)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
