package keyring

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const encryptionVersion = "x25519-xsalsa20-poly1305"

var ErrDecryptFailed = errors.New("decryption failed")

// EncryptedData is the eth_decrypt envelope. Binary fields are base64.
type EncryptedData struct {
	Version        string `json:"version"`
	Nonce          string `json:"nonce"`
	EphemPublicKey string `json:"ephemPublicKey"`
	Ciphertext     string `json:"ciphertext"`
}

func encryptionKey(key *ecdsa.PrivateKey) *[32]byte {
	var priv [32]byte
	copy(priv[:], gethcrypto.FromECDSA(key))
	return &priv
}

// encryptionPublicKey is the base64 x25519 public key of an account key.
func encryptionPublicKey(key *ecdsa.PrivateKey) (string, error) {
	pub, err := curve25519.X25519(encryptionKey(key)[:], curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

func decode32(field, s string) (*[32]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: bad %s", ErrDecryptFailed, field)
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}

func decryptWithKey(key *ecdsa.PrivateKey, msg EncryptedData) (string, error) {
	if msg.Version != encryptionVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrDecryptFailed, msg.Version)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(msg.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return "", fmt.Errorf("%w: bad nonce", ErrDecryptFailed)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	ephem, err := decode32("ephemPublicKey", msg.EphemPublicKey)
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(msg.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryptFailed)
	}
	plain, ok := box.Open(nil, ciphertext, &nonce, ephem, encryptionKey(key))
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

// Encrypt seals message for the holder of the base64 encryption public key.
func Encrypt(publicKey, message string) (EncryptedData, error) {
	recipient, err := decode32("public key", publicKey)
	if err != nil {
		return EncryptedData{}, err
	}
	ephemPub, ephemPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return EncryptedData{}, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return EncryptedData{}, err
	}
	sealed := box.Seal(nil, []byte(message), &nonce, recipient, ephemPriv)
	return EncryptedData{
		Version:        encryptionVersion,
		Nonce:          base64.StdEncoding.EncodeToString(nonce[:]),
		EphemPublicKey: base64.StdEncoding.EncodeToString(ephemPub[:]),
		Ciphertext:     base64.StdEncoding.EncodeToString(sealed),
	}, nil
}
